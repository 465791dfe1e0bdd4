//go:build property
// +build property

package mintevents

import (
	"context"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genOptBool() gopter.Gen {
	return gen.IntRange(0, 2).Map(func(n int) *bool {
		switch n {
		case 0:
			return nil
		case 1:
			return Bool(false)
		default:
			return Bool(true)
		}
	})
}

func genOptString() gopter.Gen {
	return gen.PtrOf(gen.AlphaString())
}

func genPatch() gopter.Gen {
	return gopter.CombineGens(
		genOptBool(), genOptBool(), genOptBool(),
		genOptString(), genOptString(), genOptString(),
		gen.PtrOf(gen.IntRange(0, 5)),
	).Map(func(v []interface{}) Patch {
		return Patch{
			Ack:         v[0].(*bool),
			EdenSuccess: v[1].(*bool),
			TxSuccess:   v[2].(*bool),
			ImageURI:    v[3].(*string),
			IPFSURI:     v[4].(*string),
			TxHash:      v[5].(*string),
			TxAttempts:  v[6].(*int),
		}
	})
}

// TestUpsertIdempotence verifies that applying a patch twice equals applying it once.
// Property: upsert(upsert(s, p), p) == upsert(s, p)
func TestUpsertIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated upsert leaves the same record", prop.ForAll(
		func(seed, p Patch) bool {
			ctx := context.Background()
			once, twice := NewMemoryStore(), NewMemoryStore()
			for _, s := range []*MemoryStore{once, twice} {
				_ = s.UpsertByTaskID(ctx, "t", seed)
				_ = s.UpsertByTaskID(ctx, "t", p)
			}
			_ = twice.UpsertByTaskID(ctx, "t", p)

			a, _ := once.Get(ctx, "t")
			b, _ := twice.Get(ctx, "t")
			return reflect.DeepEqual(a, b)
		},
		genPatch(), genPatch(),
	))

	properties.TestingRun(t)
}

// TestAckMonotonic verifies that no sequence of patches resets ack.
// Property: ack(s) == true => ack(upsert(s, p)) == true
func TestAckMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("acknowledged events never become pending", prop.ForAll(
		func(patches []Patch) bool {
			ctx := context.Background()
			s := NewMemoryStore()
			_ = s.UpsertByTaskID(ctx, "t", Patch{Ack: Bool(true)})
			for _, p := range patches {
				_ = s.UpsertByTaskID(ctx, "t", p)
			}
			pending, _ := s.FindPending(ctx)
			return len(pending) == 0
		},
		gen.SliceOf(genPatch()),
	))

	properties.TestingRun(t)
}
