package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/saurabh2727/property-finder/internal/domain"
)

// Snapshot is one session's analysis state. Values handed out by the Store
// are copies; changes only take effect through Store.Save.
type Snapshot struct {
	Version int
	Step    Step
	Profile *domain.CustomerProfile
	// ProfileVersion increases whenever the profile changes materially.
	ProfileVersion       int
	Catalog              *domain.Catalog
	Recommendations      *domain.RecommendationSet
	RecommendationsStale bool
	UpdatedAt            time.Time
}

// Empty is the snapshot of a session nobody has written to yet.
func Empty() Snapshot { return Snapshot{Step: StepProfile} }

// Clone returns a deep copy. The catalog is immutable and shared.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Profile != nil {
		p := s.Profile.Clone()
		out.Profile = &p
	}
	if s.Recommendations != nil {
		r := s.Recommendations.Clone()
		out.Recommendations = &r
	}
	return out
}

// Accepts reports whether set was computed against this snapshot's current
// profile version and catalog. Results from a superseded run are refused.
func (s Snapshot) Accepts(set domain.RecommendationSet) error {
	if set.ProfileVersion != s.ProfileVersion {
		return fmt.Errorf("%w: computed for profile version %d, session is at %d", ErrStaleResult, set.ProfileVersion, s.ProfileVersion)
	}
	if set.CatalogID != s.Catalog.ID() {
		return fmt.Errorf("%w: computed for catalog %s, session holds %s", ErrStaleResult, set.CatalogID, s.Catalog.ID())
	}
	return nil
}

func (s Snapshot) staleRecommendations() bool {
	if s.Recommendations == nil {
		return false
	}
	return s.Recommendations.ProfileVersion != s.ProfileVersion || s.Recommendations.CatalogID != s.Catalog.ID()
}

// Record is the persisted layout of a snapshot. The catalog is stored
// separately under its content ID.
type Record struct {
	Version              int                       `json:"version"`
	Step                 Step                      `json:"step"`
	Profile              *domain.CustomerProfile   `json:"profile"`
	ProfileVersion       int                       `json:"profile_version"`
	CatalogRef           *string                   `json:"catalog_ref"`
	Recommendations      *domain.RecommendationSet `json:"recommendations"`
	RecommendationsStale bool                      `json:"recommendations_stale"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

func (s Snapshot) record() Record {
	r := Record{
		Version:              s.Version,
		Step:                 s.Step,
		Profile:              s.Profile,
		ProfileVersion:       s.ProfileVersion,
		Recommendations:      s.Recommendations,
		RecommendationsStale: s.RecommendationsStale,
		UpdatedAt:            s.UpdatedAt,
	}
	if s.Catalog != nil {
		id := s.Catalog.ID()
		r.CatalogRef = &id
	}
	return r
}

// ErrCorrupt marks a stored snapshot that cannot be decoded or whose
// checksum does not match.
var ErrCorrupt = errors.New("corrupt snapshot")

type envelope struct {
	Checksum string          `json:"checksum"`
	Record   json.RawMessage `json:"record"`
}

// EncodeRecord serializes a record with a checksum over its body.
func EncodeRecord(r Record) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	sum := sha256.Sum256(body)
	return json.Marshal(envelope{Checksum: hex.EncodeToString(sum[:]), Record: body})
}

// peekVersion reads the version field of a record that failed verification.
// It returns 0 when none is legible.
func peekVersion(b []byte) int {
	var env struct {
		Record struct {
			Version int `json:"version"`
		} `json:"record"`
	}
	if err := json.Unmarshal(b, &env); err != nil || env.Record.Version < 0 {
		return 0
	}
	return env.Record.Version
}

// DecodeRecord verifies and decodes an encoded record.
func DecodeRecord(b []byte) (Record, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	sum := sha256.Sum256(env.Record)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return Record{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	var r Record
	if err := json.Unmarshal(env.Record, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if r.Version < 1 || !r.Step.Valid() {
		return Record{}, fmt.Errorf("%w: version %d step %d", ErrCorrupt, r.Version, int(r.Step))
	}
	return r, nil
}
