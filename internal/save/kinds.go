package save

import (
	"time"
)

// Characteristics holds the combat stats of a save.
type Characteristics struct {
	Attack     *int64 `json:"attack,omitempty" db:"attack"`
	CritChance *int64 `json:"critChance,omitempty" db:"crit_chance"`
	CritDamage *int64 `json:"critDamage,omitempty" db:"crit_damage"`
	Health     *int64 `json:"health,omitempty" db:"health"`
	Resistance *int64 `json:"resistance,omitempty" db:"resistance"`
}

func (Characteristics) Kind() Kind { return KindCharacteristics }

func (c Characteristics) Merge(over Characteristics) Characteristics {
	return Characteristics{
		Attack:     pick(c.Attack, over.Attack),
		CritChance: pick(c.CritChance, over.CritChance),
		CritDamage: pick(c.CritDamage, over.CritDamage),
		Health:     pick(c.Health, over.Health),
		Resistance: pick(c.Resistance, over.Resistance),
	}
}

func (c Characteristics) IsEmpty() bool {
	return noneSet(c.Attack, c.CritChance, c.CritDamage, c.Health, c.Resistance)
}

func (c Characteristics) IsComplete() bool {
	return allSet(c.Attack, c.CritChance, c.CritDamage, c.Health, c.Resistance)
}

func (c Characteristics) Complete() Characteristics {
	return Characteristics{
		Attack:     orZero(c.Attack),
		CritChance: orZero(c.CritChance),
		CritDamage: orZero(c.CritDamage),
		Health:     orZero(c.Health),
		Resistance: orZero(c.Resistance),
	}
}

func (c Characteristics) Validate() error {
	return checkNonNegative(KindCharacteristics, map[string]*int64{
		"attack":     c.Attack,
		"critChance": c.CritChance,
		"critDamage": c.CritDamage,
		"health":     c.Health,
		"resistance": c.Resistance,
	})
}

// Currency holds the wallet of a save.
type Currency struct {
	Gold     *int64 `json:"gold,omitempty" db:"gold"`
	Diamond  *int64 `json:"diamond,omitempty" db:"diamond"`
	Emerald  *int64 `json:"emerald,omitempty" db:"emerald"`
	Amethyst *int64 `json:"amethyst,omitempty" db:"amethyst"`
}

func (Currency) Kind() Kind { return KindCurrency }

func (c Currency) Merge(over Currency) Currency {
	return Currency{
		Gold:     pick(c.Gold, over.Gold),
		Diamond:  pick(c.Diamond, over.Diamond),
		Emerald:  pick(c.Emerald, over.Emerald),
		Amethyst: pick(c.Amethyst, over.Amethyst),
	}
}

func (c Currency) IsEmpty() bool {
	return noneSet(c.Gold, c.Diamond, c.Emerald, c.Amethyst)
}

func (c Currency) IsComplete() bool {
	return allSet(c.Gold, c.Diamond, c.Emerald, c.Amethyst)
}

func (c Currency) Complete() Currency {
	return Currency{
		Gold:     orZero(c.Gold),
		Diamond:  orZero(c.Diamond),
		Emerald:  orZero(c.Emerald),
		Amethyst: orZero(c.Amethyst),
	}
}

func (c Currency) Validate() error {
	return checkNonNegative(KindCurrency, map[string]*int64{
		"gold":     c.Gold,
		"diamond":  c.Diamond,
		"emerald":  c.Emerald,
		"amethyst": c.Amethyst,
	})
}

// Stage holds dungeon progress. MaxStage >= CurrentStage is maintained by
// callers.
type Stage struct {
	CurrentStage *int64 `json:"currentStage,omitempty" db:"current_stage"`
	MaxStage     *int64 `json:"maxStage,omitempty" db:"max_stage"`
	Wave         *int64 `json:"wave,omitempty" db:"wave"`
}

func (Stage) Kind() Kind { return KindStage }

func (s Stage) Merge(over Stage) Stage {
	return Stage{
		CurrentStage: pick(s.CurrentStage, over.CurrentStage),
		MaxStage:     pick(s.MaxStage, over.MaxStage),
		Wave:         pick(s.Wave, over.Wave),
	}
}

func (s Stage) IsEmpty() bool {
	return noneSet(s.CurrentStage, s.MaxStage, s.Wave)
}

func (s Stage) IsComplete() bool {
	return allSet(s.CurrentStage, s.MaxStage, s.Wave)
}

func (s Stage) Complete() Stage {
	return Stage{
		CurrentStage: orZero(s.CurrentStage),
		MaxStage:     orZero(s.MaxStage),
		Wave:         orZero(s.Wave),
	}
}

func (s Stage) Validate() error {
	return checkNonNegative(KindStage, map[string]*int64{
		"currentStage": s.CurrentStage,
		"maxStage":     s.MaxStage,
		"wave":         s.Wave,
	})
}

// Metadata describes who owns a save and how it is displayed. Nickname is
// the only updatable field; identity, owner and creation time are fixed once
// the row exists.
type Metadata struct {
	SaveID    string     `json:"saveId,omitempty"`
	Owner     string     `json:"owner,omitempty"`
	Nickname  *string    `json:"nickname,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (Metadata) Kind() Kind { return KindMetadata }

// Merge applies the nickname of over. SaveID, Owner and CreatedAt keep the
// receiver's value when set; UpdatedAt takes the newest of both.
func (m Metadata) Merge(over Metadata) Metadata {
	merged := Metadata{
		SaveID:    m.SaveID,
		Owner:     m.Owner,
		Nickname:  pick(m.Nickname, over.Nickname),
		CreatedAt: pick(over.CreatedAt, m.CreatedAt),
		UpdatedAt: pick(m.UpdatedAt, over.UpdatedAt),
	}
	if merged.SaveID == "" {
		merged.SaveID = over.SaveID
	}
	if merged.Owner == "" {
		merged.Owner = over.Owner
	}
	if m.UpdatedAt != nil && over.UpdatedAt != nil && m.UpdatedAt.After(*over.UpdatedAt) {
		t := *m.UpdatedAt
		merged.UpdatedAt = &t
	}
	return merged
}

func (m Metadata) IsEmpty() bool {
	return m.Nickname == nil
}

func (m Metadata) IsComplete() bool {
	return m.SaveID != "" && m.Owner != "" && m.CreatedAt != nil && m.UpdatedAt != nil
}

// Complete stamps missing timestamps with the current time. Nickname stays
// optional and Owner has no meaningful default.
func (m Metadata) Complete() Metadata {
	now := time.Now().UTC()
	out := m.Merge(Metadata{})
	if out.CreatedAt == nil {
		out.CreatedAt = &now
	}
	if out.UpdatedAt == nil {
		out.UpdatedAt = &now
	}
	return out
}

func (m Metadata) Validate() error {
	if m.Nickname != nil && *m.Nickname == "" {
		return NewError(CodeInvalidArgument, "metadata.nickname must not be blank")
	}
	return nil
}

// Save is the composed read view of one game save.
type Save struct {
	Metadata        Metadata        `json:"metadata"`
	Characteristics Characteristics `json:"characteristics"`
	Currency        Currency        `json:"currency"`
	Stage           Stage           `json:"stage"`
}

// ID returns the save identifier.
func (s Save) ID() string {
	return s.Metadata.SaveID
}

var (
	_ Aggregate[Characteristics] = Characteristics{}
	_ Aggregate[Currency]        = Currency{}
	_ Aggregate[Stage]           = Stage{}
	_ Aggregate[Metadata]        = Metadata{}
)
