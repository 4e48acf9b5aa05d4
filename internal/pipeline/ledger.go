package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compintel-cli/internal/model"
	"github.com/sells-group/compintel-cli/internal/store"
)

// ErrKeyHalted marks a (entity, field) key whose writes are blocked after an
// integrity check failed. Other keys are unaffected.
var ErrKeyHalted = eris.New("ledger: key halted")

// Ledger owns the single write path for claim versions. Every write to a
// given (entity_id, field_key) is serialized behind a per-key mutex so
// version numbers are monotonic and the projection is never observed
// mid-update. Keys are independent; there is no global lock.
type Ledger struct {
	store store.Store

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

// NewLedger creates a Ledger over the given store.
func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st, keys: make(map[string]*sync.Mutex)}
}

func (l *Ledger) keyLock(entityID, fieldKey string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := entityID + "\x1f" + fieldKey
	m, ok := l.keys[k]
	if !ok {
		m = &sync.Mutex{}
		l.keys[k] = m
	}
	return m
}

// Apply appends a new claim version and updates the current-claim projection
// under the key's lock. It returns the exact (old, new) pair committed, for
// change detection; old is nil when the key had no prior claim. The per-key
// section is CPU-and-local-I/O only; callers must not hold it across network
// calls.
func (l *Ledger) Apply(ctx context.Context, entityID, fieldKey string, value model.Value, evidenceID, enteredBy string) (*model.Value, model.Value, error) {
	lock := l.keyLock(entityID, fieldKey)
	lock.Lock()
	defer lock.Unlock()

	halted, err := l.store.IsKeyHalted(ctx, entityID, fieldKey)
	if err != nil {
		return nil, model.Value{}, eris.Wrap(err, "ledger: halt check")
	}
	if halted {
		return nil, model.Value{}, eris.Wrapf(ErrKeyHalted, "%s/%s", entityID, fieldKey)
	}

	cur, err := l.store.GetCurrentClaim(ctx, entityID, fieldKey)
	if err != nil {
		return nil, model.Value{}, eris.Wrap(err, "ledger: read current")
	}

	var old *model.Value
	versionNo := 1
	if cur != nil {
		v := cur.Value
		old = &v
		versionNo = cur.VersionNo + 1
	}

	now := time.Now().UTC()
	if err := l.store.AppendVersion(ctx, model.ClaimVersion{
		EntityID:   entityID,
		FieldKey:   fieldKey,
		VersionNo:  versionNo,
		Value:      value,
		EvidenceID: evidenceID,
		EnteredBy:  enteredBy,
		CreatedAt:  now,
	}); err != nil {
		return nil, model.Value{}, eris.Wrap(err, "ledger: append version")
	}

	if err := l.store.UpsertCurrentClaim(ctx, model.CurrentClaim{
		EntityID:       entityID,
		FieldKey:       fieldKey,
		Value:          value,
		VersionNo:      versionNo,
		LastVerifiedAt: now,
	}); err != nil {
		return nil, model.Value{}, eris.Wrap(err, "ledger: upsert current")
	}

	zap.L().Debug("ledger: applied",
		zap.String("entity", entityID),
		zap.String("field", fieldKey),
		zap.Int("version", versionNo),
		zap.String("entered_by", enteredBy),
	)
	return old, value, nil
}

// Mismatch describes one key where the replayed log disagrees with the
// stored projection.
type Mismatch struct {
	EntityID string
	FieldKey string
	Detail   string
}

// Verify replays the full version log and compares the result to the stored
// current-claim projection. Every mismatching key is halted for further
// writes and reported; healthy keys stay live.
func (l *Ledger) Verify(ctx context.Context) ([]Mismatch, error) {
	versions, err := l.store.AllVersions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: load versions")
	}
	currents, err := l.store.AllCurrentClaims(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: load projection")
	}

	replayed := Replay(versions)
	stored := make(map[string]model.CurrentClaim, len(currents))
	for _, c := range currents {
		stored[c.EntityID+"\x1f"+c.FieldKey] = c
	}

	var mismatches []Mismatch
	flag := func(entityID, fieldKey, detail string) {
		mismatches = append(mismatches, Mismatch{EntityID: entityID, FieldKey: fieldKey, Detail: detail})
		zap.L().Error("ledger: rebuild mismatch",
			zap.String("entity", entityID),
			zap.String("field", fieldKey),
			zap.String("detail", detail),
		)
	}

	for k, want := range replayed {
		got, ok := stored[k]
		switch {
		case !ok:
			flag(want.EntityID, want.FieldKey, "projection row missing")
		case got.VersionNo != want.VersionNo:
			flag(want.EntityID, want.FieldKey, "version number diverges")
		case !got.Value.Equal(want.Value):
			flag(want.EntityID, want.FieldKey, "projected value diverges")
		}
	}
	for k, got := range stored {
		if _, ok := replayed[k]; !ok {
			flag(got.EntityID, got.FieldKey, "projection row has no log entries")
		}
	}

	for _, m := range mismatches {
		if err := l.store.HaltKey(ctx, m.EntityID, m.FieldKey, m.Detail); err != nil {
			return mismatches, eris.Wrap(err, "ledger: halt key")
		}
	}
	return mismatches, nil
}

// Rebuild replays the version log and rewrites the projection from it,
// repairing any divergence. Halted keys are not un-halted; that is an
// operator decision after the cause is understood.
func (l *Ledger) Rebuild(ctx context.Context) (int, error) {
	versions, err := l.store.AllVersions(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: load versions")
	}
	replayed := Replay(versions)
	for _, c := range replayed {
		if err := l.store.UpsertCurrentClaim(ctx, c); err != nil {
			return 0, eris.Wrapf(err, "ledger: rebuild %s/%s", c.EntityID, c.FieldKey)
		}
	}
	return len(replayed), nil
}

// Replay folds version rows into the current-claim state they imply. Rows
// must carry strictly increasing version numbers per key; within a key the
// highest version wins.
func Replay(versions []model.ClaimVersion) map[string]model.CurrentClaim {
	out := make(map[string]model.CurrentClaim)
	for _, v := range versions {
		k := v.EntityID + "\x1f" + v.FieldKey
		cur, ok := out[k]
		if ok && cur.VersionNo >= v.VersionNo {
			continue
		}
		out[k] = model.CurrentClaim{
			EntityID:       v.EntityID,
			FieldKey:       v.FieldKey,
			Value:          v.Value,
			VersionNo:      v.VersionNo,
			LastVerifiedAt: v.CreatedAt,
		}
	}
	return out
}
