package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abraham-ai/mintmodifier/pkg/chain"
	"github.com/abraham-ai/mintmodifier/pkg/eden"
	"github.com/abraham-ai/mintmodifier/pkg/observability"
	"github.com/abraham-ai/mintmodifier/pkg/store/mintevents"
)

// publish runs the pipeline for a completed task. A returned error means
// nothing was persisted and the event stays pending.
func (e *Engine) publish(ctx context.Context, logger *slog.Logger, ev mintevents.MintEvent, task eden.Task) (o outcome, err error) {
	ctx, finish := e.telemetry.TrackOperation(ctx, "mintmodifier.publish",
		observability.TaskOperation(task.TaskID, ev.TokenID, string(task.Status))...)
	defer func() { finish(err) }()

	creation, err := e.tasks.GetCreation(ctx, task.Creation)
	if err != nil {
		return outcomeErrored, fmt.Errorf("resolve creation: %w", err)
	}
	if creation.URI == "" {
		return outcomeErrored, fmt.Errorf("creation %s has no artifact uri", creation.ID)
	}

	artifactURI, err := e.publishArtifact(ctx, creation)
	if err != nil {
		return outcomeErrored, err
	}
	logger.InfoContext(ctx, "artifact published", "artifact_uri", artifactURI)

	doc, err := BuildMetadata(e.metadataName, e.creationBaseURL, creation, artifactURI).Encode()
	if err != nil {
		return outcomeErrored, err
	}
	metaCID, err := e.publisher.PublishJSON(ctx, doc)
	if err != nil {
		return outcomeErrored, fmt.Errorf("publish metadata: %w", err)
	}
	metadataURI := e.publisher.GatewayURI(metaCID)
	logger.InfoContext(ctx, "metadata published", "metadata_uri", metadataURI)

	attempt := ev.TxAttempts + 1
	res, err := e.writeLedger(ctx, ev, task.TaskID, attempt, metadataURI)
	if err != nil {
		return outcomeErrored, err
	}

	if !res.Success && !e.ledgerPolicy.Exhausted(attempt) {
		patch := mintevents.Patch{
			TxSuccess:       mintevents.Bool(false),
			TxAttempts:      mintevents.Int(attempt),
			TxHash:          mintevents.String(res.TxHash),
			TxFailureReason: mintevents.String(res.FailureReason),
			MetadataURI:     mintevents.String(metadataURI),
		}
		if err := e.store.UpsertByTaskID(ctx, task.TaskID, patch); err != nil {
			return outcomeErrored, fmt.Errorf("record ledger failure: %w", err)
		}
		logger.WarnContext(ctx, "ledger write failed, will retry",
			"tx_hash", res.TxHash, "reason", res.FailureReason,
			"attempt", attempt, "max_attempts", e.ledgerPolicy.MaxAttempts)
		return outcomeLedgerRetrying, nil
	}

	patch := mintevents.Patch{
		Ack:          mintevents.Bool(true),
		EdenSuccess:  mintevents.Bool(true),
		ImageURI:     mintevents.String(creation.URI),
		IPFSURI:      mintevents.String(artifactURI),
		IPFSImageURI: mintevents.String(artifactURI),
		MetadataURI:  mintevents.String(metadataURI),
		TxSuccess:    mintevents.Bool(res.Success),
		TxHash:       mintevents.String(res.TxHash),
		TxAttempts:   mintevents.Int(attempt),
		// Cleared on success so a reason left by an earlier attempt does not survive.
		TxFailureReason: mintevents.String(res.FailureReason),
	}
	if err := e.store.UpsertByTaskID(ctx, task.TaskID, patch); err != nil {
		return outcomeErrored, fmt.Errorf("acknowledge mint event: %w", err)
	}

	if res.Success {
		logger.InfoContext(ctx, "token metadata updated", "tx_hash", res.TxHash)
		e.telemetry.RecordAcknowledged(ctx, observability.OutcomeMinted)
		return outcomeMinted, nil
	}
	logger.WarnContext(ctx, "ledger write failed", "tx_hash", res.TxHash, "reason", res.FailureReason, "attempt", attempt)
	e.telemetry.RecordAcknowledged(ctx, observability.OutcomeLedgerFailed)
	return outcomeLedgerFailed, nil
}

func (e *Engine) publishArtifact(ctx context.Context, creation eden.Creation) (uri string, err error) {
	ctx, finish := e.telemetry.TrackOperation(ctx, "mintmodifier.publish_artifact")
	defer func() { finish(err) }()

	body, err := e.fetcher.Fetch(ctx, creation.URI)
	if err != nil {
		return "", fmt.Errorf("fetch artifact: %w", err)
	}
	defer func() { _ = body.Close() }()

	cid, err := e.publisher.PublishBinary(ctx, body, FilenameHint(creation.URI, creation.ID))
	if err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return e.publisher.GatewayURI(cid), nil
}

func (e *Engine) writeLedger(ctx context.Context, ev mintevents.MintEvent, taskID string, attempt int, metadataURI string) (res chain.TxResult, err error) {
	ctx, finish := e.telemetry.TrackOperation(ctx, "mintmodifier.ledger_write",
		observability.LedgerOperation(taskID, ev.TokenID, attempt)...)
	defer func() { finish(err) }()

	res, err = e.ledger.SetMetadata(ctx, ev.TokenID, metadataURI)
	if err != nil {
		return res, fmt.Errorf("set token metadata: %w", err)
	}
	observability.SetSpanAttributes(ctx, observability.AttrTxHash.String(res.TxHash))
	return res, nil
}
