package save_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/auth-platform/savecache-service/internal/save"
)

func optInt(t *rapid.T, label string) *int64 {
	return rapid.Ptr(rapid.Int64Range(0, 1_000_000), true).Draw(t, label)
}

func genCurrency(t *rapid.T, label string) save.Currency {
	return save.Currency{
		Gold:     optInt(t, label+".gold"),
		Diamond:  optInt(t, label+".diamond"),
		Emerald:  optInt(t, label+".emerald"),
		Amethyst: optInt(t, label+".amethyst"),
	}
}

func genCharacteristics(t *rapid.T, label string) save.Characteristics {
	return save.Characteristics{
		Attack:     optInt(t, label+".attack"),
		CritChance: optInt(t, label+".critChance"),
		CritDamage: optInt(t, label+".critDamage"),
		Health:     optInt(t, label+".health"),
		Resistance: optInt(t, label+".resistance"),
	}
}

func expectField(t *rapid.T, name string, base, over, got *int64) {
	switch {
	case over != nil:
		if got == nil || *got != *over {
			t.Fatalf("%s: want command value %d, got %v", name, *over, got)
		}
	case base != nil:
		if got == nil || *got != *base {
			t.Fatalf("%s: want base value %d, got %v", name, *base, got)
		}
	default:
		if got != nil {
			t.Fatalf("%s: want unset, got %d", name, *got)
		}
	}
}

func TestCurrencyMergeLaterWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := genCurrency(t, "base")
		over := genCurrency(t, "over")

		got := base.Merge(over)

		expectField(t, "gold", base.Gold, over.Gold, got.Gold)
		expectField(t, "diamond", base.Diamond, over.Diamond, got.Diamond)
		expectField(t, "emerald", base.Emerald, over.Emerald, got.Emerald)
		expectField(t, "amethyst", base.Amethyst, over.Amethyst, got.Amethyst)
	})
}

func TestCharacteristicsMergeIsAssociative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := genCharacteristics(t, "a")
		b := genCharacteristics(t, "b")
		c := genCharacteristics(t, "c")

		left := a.Merge(b).Merge(c)
		right := a.Merge(b.Merge(c))

		if !assert.ObjectsAreEqual(left, right) {
			t.Fatalf("merge not associative: %+v vs %+v", left, right)
		}
	})
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	base := save.Stage{CurrentStage: save.Int(1), MaxStage: save.Int(3), Wave: save.Int(2)}
	over := save.Stage{Wave: save.Int(5)}

	merged := base.Merge(over)
	*merged.Wave = 9
	*merged.MaxStage = 10

	assert.Equal(t, int64(5), *over.Wave)
	assert.Equal(t, int64(3), *base.MaxStage)
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, save.Characteristics{}.IsEmpty())
	assert.True(t, save.Currency{}.IsEmpty())
	assert.True(t, save.Stage{}.IsEmpty())
	assert.True(t, save.Metadata{SaveID: "s-1", Owner: "alice"}.IsEmpty())

	assert.False(t, save.Currency{Gold: save.Int(0)}.IsEmpty())
	assert.False(t, save.Stage{Wave: save.Int(1)}.IsEmpty())
	assert.False(t, save.Metadata{Nickname: save.String("hero")}.IsEmpty())
}

func TestCompleteCoercesUnsetToZero(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := genCharacteristics(t, "c")
		full := c.Complete()

		if !full.IsComplete() {
			t.Fatalf("complete value has unset fields: %+v", full)
		}
		expectField(t, "attack", save.Int(0), c.Attack, full.Attack)
		expectField(t, "health", save.Int(0), c.Health, full.Health)
	})
}

func TestMetadataMergeKeepsIdentity(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	base := save.Metadata{
		SaveID:    "s-1",
		Owner:     "alice",
		Nickname:  save.String("old"),
		CreatedAt: &created,
		UpdatedAt: &updated,
	}
	older := created.Add(time.Minute)
	cmd := save.Metadata{SaveID: "other", Owner: "mallory", Nickname: save.String("new"), UpdatedAt: &older}

	got := base.Merge(cmd)

	assert.Equal(t, "s-1", got.SaveID)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, "new", *got.Nickname)
	assert.Equal(t, created, *got.CreatedAt)
	assert.Equal(t, updated, *got.UpdatedAt)
}

func TestMetadataCompleteStampsTimes(t *testing.T) {
	m := save.Metadata{SaveID: "s-1", Owner: "alice"}.Complete()

	require.NotNil(t, m.CreatedAt)
	require.NotNil(t, m.UpdatedAt)
	assert.Nil(t, m.Nickname)
	assert.True(t, m.IsComplete())
}

func TestValidateRejectsNegative(t *testing.T) {
	err := save.Currency{Gold: save.Int(-1)}.Validate()
	require.Error(t, err)
	assert.True(t, save.IsInvalidArgument(err))

	assert.NoError(t, save.Currency{Gold: save.Int(0)}.Validate())
	assert.Error(t, save.Metadata{Nickname: save.String("")}.Validate())
}

func TestParseKind(t *testing.T) {
	k, err := save.ParseKind(" Currency ")
	require.NoError(t, err)
	assert.Equal(t, save.KindCurrency, k)

	_, err = save.ParseKind("inventory")
	assert.True(t, save.IsInvalidArgument(err))
	assert.Len(t, save.Kinds(), 4)
}

func TestValidateID(t *testing.T) {
	assert.ErrorIs(t, save.ValidateID("  "), save.ErrEmptySaveID)
	assert.NoError(t, save.ValidateID("s-1"))
}
