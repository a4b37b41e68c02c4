package app

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"taskmark/api/internal/config"
	"taskmark/api/internal/feed"
	"taskmark/api/internal/identity"
	"taskmark/api/internal/note"
	"taskmark/api/internal/sanitize"
)

// localStore is the embedded durable backend (LOCAL mode).
type localStore interface {
	GetAll(ctx context.Context) ([]note.Note, error)
	Put(ctx context.Context, n note.Note) error
	Delete(ctx context.Context, id string) error
	Mode(ctx context.Context) (note.Mode, error)
	SetMode(ctx context.Context, m note.Mode) error
	Ping(ctx context.Context) error
}

// remoteStore is the cloud durable backend (CLOUD mode).
type remoteStore interface {
	Query(ctx context.Context, owner string) ([]note.Note, error)
	Upsert(ctx context.Context, n note.Note, owner string) (note.Note, error)
	Delete(ctx context.Context, id, owner string) error
	Ping(ctx context.Context) error
}

// changeFeed pushes and receives live note changes in cloud mode.
type changeFeed interface {
	Publish(ctx context.Context, owner string, ev feed.Event) error
	Subscribe(ctx context.Context, owner string, onChange func(feed.Event)) (func(), error)
}

// Indexer mirrors note mutations into the search index.
type Indexer interface {
	Index(n note.Note)
	Remove(id string)
}

// Service is the note store: it exclusively owns the in-memory active and
// trash collections, targets the durable backend selected by the operating
// mode, applies optimistic updates, and merges remote push events.
type Service struct {
	cfg     config.Config
	local   localStore
	remote  remoteStore
	feed    changeFeed
	ident   identity.Provider
	indexer Indexer
	writer  *coalescer

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	mu           sync.Mutex
	notes        map[string]note.Note
	written      map[string]time.Time
	trash        []note.Deleted
	lastDeleted  *note.Deleted
	mode         note.Mode
	selected     string
	unsubscribe  func()
	listeners    map[int]func()
	nextListener int
	errListeners []func(error)
}

func New(cfg config.Config, local localStore, remote remoteStore, changes changeFeed, ident identity.Provider) *Service {
	s := &Service{
		cfg:       cfg,
		local:     local,
		remote:    remote,
		feed:      changes,
		ident:     ident,
		entropy:   ulid.Monotonic(rand.Reader, 0),
		notes:     make(map[string]note.Note),
		written:   make(map[string]time.Time),
		listeners: make(map[int]func()),
	}
	s.writer = newCoalescer(cfg.SaveDebounce, s.performWrite)
	return s
}

// SetIndexer attaches a search indexer. Optional; nil disables indexing.
func (s *Service) SetIndexer(indexer Indexer) {
	s.indexer = indexer
}

// newID allocates a time-ordered id, monotonically increasing within the
// session even for same-millisecond creations.
func (s *Service) newID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), s.entropy).String()
}

// Load reads the persisted operating mode and fills the in-memory collection
// from the selected backend. Call once at startup.
func (s *Service) Load(ctx context.Context) error {
	mode, err := s.local.Mode(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	return s.reload(ctx)
}

// reload replaces the active collection from the current backend and, in
// cloud mode, (re)subscribes to the push feed. Any previous subscription is
// torn down first.
func (s *Service) reload(ctx context.Context) error {
	s.mu.Lock()
	mode := s.mode
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	var notes []note.Note
	var err error
	var cancel func()
	if mode == note.ModeCloud && s.remote != nil {
		owner, ierr := s.ident.CurrentUser(ctx)
		if ierr != nil {
			return ierr
		}
		notes, err = s.remote.Query(ctx, owner)
		if err != nil {
			return err
		}
		if s.feed != nil {
			cancel, err = s.feed.Subscribe(context.Background(), owner, s.applyRemote)
			if err != nil {
				log.Printf("notes: feed subscribe failed, continuing without push updates: %v", err)
				cancel = nil
			}
		}
	} else {
		notes, err = s.local.GetAll(ctx)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.notes = make(map[string]note.Note, len(notes))
	for _, n := range notes {
		s.notes[n.ID] = n
		if s.indexer != nil {
			s.indexer.Index(n)
		}
	}
	if _, ok := s.notes[s.selected]; !ok {
		s.selected = ""
	}
	s.unsubscribe = cancel
	s.mu.Unlock()
	s.notify()
	return nil
}

// Mode reports the current operating mode.
func (s *Service) Mode() note.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the durable backend. This is a disruptive full reload,
// not a live migration; pending coalesced writes are flushed to the old
// backend first so no note is silently lost.
func (s *Service) SetMode(ctx context.Context, m note.Mode) error {
	s.mu.Lock()
	if s.mode == m {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if m == note.ModeCloud && s.remote == nil {
		return domainError(400, "CLOUD_DISABLED", "Cloud mode is not configured", nil)
	}

	s.writer.flushAll()
	if err := s.local.SetMode(ctx, m); err != nil {
		return err
	}
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	return s.reload(ctx)
}

// Create allocates a fresh note with a single empty paragraph, writes it
// through the active backend, and selects it.
func (s *Service) Create(ctx context.Context) (note.Note, error) {
	now := time.Now().UTC()
	n := note.Note{
		ID:            s.newID(),
		SchemaVersion: note.SchemaVersion,
		Title:         "",
		Blocks:        note.EmptyDocument(),
		Tags:          []string{},
		Created:       now,
		Updated:       now,
	}
	n.Normalize()

	mode, owner, err := s.target(ctx)
	if err != nil {
		return note.Note{}, err
	}
	n, err = s.writeDurable(ctx, n, mode, owner)
	if err != nil {
		return note.Note{}, err
	}

	s.mu.Lock()
	s.notes[n.ID] = n
	s.selected = n.ID
	s.mu.Unlock()
	s.index(n)
	s.notify()
	return n, nil
}

// Save applies a mutation optimistically: the in-memory collection reflects
// it immediately, the durable write is coalesced. Durable failures surface
// asynchronously through OnWriteError; the in-memory state is not rolled
// back (the user keeps their typed content, the next save reconciles).
func (s *Service) Save(ctx context.Context, n note.Note) error {
	mode, owner, err := s.target(ctx)
	if err != nil {
		return err
	}
	n = s.applySave(n)
	s.writer.schedule(n, mode, owner)
	s.notify()
	return nil
}

// SaveNow is the synchronous write path: same semantics as Save but the
// durable write happens before returning and its error is returned.
func (s *Service) SaveNow(ctx context.Context, n note.Note) error {
	mode, owner, err := s.target(ctx)
	if err != nil {
		return err
	}
	n = s.applySave(n)
	s.writer.cancel(n.ID)
	// The cloud path installs the commit-stamped copy via recordWrite, and
	// only when no newer edit landed while the call was in flight.
	_, err = s.writeDurable(ctx, n, mode, owner)
	s.notify()
	return err
}

// applySave sanitizes, restamps, and installs the note in memory. Appends
// defensively when the id is unknown.
func (s *Service) applySave(n note.Note) note.Note {
	blocks, dropped := sanitize.Blocks(n.Blocks)
	if dropped > 0 {
		log.Printf("notes: sanitizer dropped %d values from note %s", dropped, n.ID)
	}
	n.Blocks = blocks
	n.Updated = time.Now().UTC()
	n.Normalize()

	s.mu.Lock()
	if existing, ok := s.notes[n.ID]; ok && n.Created.IsZero() {
		n.Created = existing.Created
	}
	if n.Created.IsZero() {
		n.Created = n.Updated
	}
	s.notes[n.ID] = n
	s.mu.Unlock()
	s.index(n)
	return n
}

// Remove soft-deletes a note: marker and trash capture, durable row removal,
// deterministic next selection.
func (s *Service) Remove(ctx context.Context, id string) error {
	mode, owner, err := s.target(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	n, ok := s.notes[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	sorted := sortedNotesLocked(s.notes)
	index := 0
	for i, candidate := range sorted {
		if candidate.ID == id {
			index = i
			break
		}
	}
	deleted := note.Deleted{Note: n, DeletedAt: time.Now().UTC()}
	s.lastDeleted = &deleted
	s.trash = append(s.trash, deleted)
	delete(s.notes, id)
	if s.selected == id {
		s.selected = nextSelection(sorted, index)
	}
	s.mu.Unlock()

	s.writer.cancel(id)
	s.unindex(id)
	s.notify()

	if err := s.deleteDurable(ctx, id, mode, owner); err != nil {
		return err
	}
	return nil
}

// nextSelection picks the note to select after removing sorted[index]:
// the next-most-recent remaining note, else the previous one, else none.
func nextSelection(sorted []note.Note, index int) string {
	remaining := make([]note.Note, 0, len(sorted)-1)
	for i, n := range sorted {
		if i != index {
			remaining = append(remaining, n)
		}
	}
	if len(remaining) == 0 {
		return ""
	}
	if index < len(remaining) {
		return remaining[index].ID
	}
	return remaining[len(remaining)-1].ID
}

// Restore moves a note from the trash back to ACTIVE, dropping deletedAt.
func (s *Service) Restore(ctx context.Context, id string) error {
	s.mu.Lock()
	var restored *note.Note
	for i, d := range s.trash {
		if d.ID == id {
			n := d.Note
			restored = &n
			s.trash = append(s.trash[:i], s.trash[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	if restored == nil {
		return ErrNotFound
	}
	return s.SaveNow(ctx, *restored)
}

// Purge permanently removes a note from the trash. The durable row is
// already gone since Remove; this only touches the in-memory trash.
func (s *Service) Purge(id string) error {
	s.mu.Lock()
	found := false
	for i, d := range s.trash {
		if d.ID == id {
			s.trash = append(s.trash[:i], s.trash[i+1:]...)
			found = true
			break
		}
	}
	if found && s.lastDeleted != nil && s.lastDeleted.ID == id {
		s.lastDeleted = nil
	}
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	s.notify()
	return nil
}

// UndoLastDelete restores the note held by the last-deleted marker, then
// clears the marker. Idempotent: with an empty marker it is a no-op.
func (s *Service) UndoLastDelete(ctx context.Context) error {
	s.mu.Lock()
	marker := s.lastDeleted
	s.lastDeleted = nil
	s.mu.Unlock()
	if marker == nil {
		return nil
	}
	if err := s.Restore(ctx, marker.ID); err != nil {
		if err == ErrNotFound {
			// Already restored or purged through another path.
			return nil
		}
		return err
	}
	return nil
}

// ListActive returns the active notes sorted newest-first.
func (s *Service) ListActive() []note.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedNotesLocked(s.notes)
}

func sortedNotesLocked(notes map[string]note.Note) []note.Note {
	out := make([]note.Note, 0, len(notes))
	for _, n := range notes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Get returns one active note by id.
func (s *Service) Get(id string) (note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return note.Note{}, ErrNotFound
	}
	return n, nil
}

// ListTrash returns the trash collection, most recently deleted first.
func (s *Service) ListTrash() []note.Deleted {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]note.Deleted, len(s.trash))
	copy(out, s.trash)
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.After(out[j].DeletedAt) })
	return out
}

// LastDeleted exposes the undo marker, or nil.
func (s *Service) LastDeleted() *note.Deleted {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDeleted == nil {
		return nil
	}
	d := *s.lastDeleted
	return &d
}

// Selected reports the current selection id, empty for none.
func (s *Service) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Select sets the selection to an existing active note.
func (s *Service) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return ErrNotFound
	}
	s.selected = id
	return nil
}

// Export renders the active collection as the canonical at-rest bulk
// representation: a plain JSON array of full notes.
func (s *Service) Export() ([]byte, error) {
	notes := s.ListActive()
	payload, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return payload, nil
}

// Import replaces (not merges) the entire active collection with the given
// payload. Rows present before the import and absent from it are deleted
// from the durable store.
func (s *Service) Import(ctx context.Context, payload []byte) error {
	var incoming []note.Note
	if err := json.Unmarshal(payload, &incoming); err != nil {
		return domainError(400, "INVALID_IMPORT", "Import payload is not a JSON array of notes", nil)
	}

	mode, owner, err := s.target(ctx)
	if err != nil {
		return err
	}
	s.writer.flushAll()

	incomingIDs := make(map[string]struct{}, len(incoming))
	for i := range incoming {
		if incoming[i].ID == "" {
			incoming[i].ID = s.newID()
		}
		incoming[i].Upgrade()
		incomingIDs[incoming[i].ID] = struct{}{}
	}

	for _, existing := range s.ListActive() {
		if _, keep := incomingIDs[existing.ID]; !keep {
			if err := s.deleteDurable(ctx, existing.ID, mode, owner); err != nil {
				return err
			}
			s.unindex(existing.ID)
		}
	}

	replaced := make(map[string]note.Note, len(incoming))
	for _, n := range incoming {
		written, err := s.writeDurable(ctx, n, mode, owner)
		if err != nil {
			return err
		}
		replaced[written.ID] = written
		s.index(written)
	}

	s.mu.Lock()
	s.notes = replaced
	if _, ok := s.notes[s.selected]; !ok {
		s.selected = ""
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Subscribe registers a change listener and returns its cancel function.
// Listeners fire after every observable mutation of the collections.
func (s *Service) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// OnWriteError registers a listener for asynchronous durable-write failures
// from the coalesced save path.
func (s *Service) OnWriteError(fn func(error)) {
	s.mu.Lock()
	s.errListeners = append(s.errListeners, fn)
	s.mu.Unlock()
}

func (s *Service) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Service) reportWriteError(err error) {
	log.Printf("notes: durable write failed: %v", err)
	s.mu.Lock()
	fns := make([]func(error), len(s.errListeners))
	copy(fns, s.errListeners)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// target snapshots the backend coordinates for one operation.
func (s *Service) target(ctx context.Context) (note.Mode, string, error) {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	if mode == note.ModeCloud {
		owner, err := s.ident.CurrentUser(ctx)
		if err != nil {
			return mode, "", err
		}
		return mode, owner, nil
	}
	return mode, "", nil
}

// performWrite is the coalescer sink. It runs on the timer goroutine with
// no service lock held.
func (s *Service) performWrite(p pendingWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RemoteTimeout+5*time.Second)
	defer cancel()
	if _, err := s.writeDurable(ctx, p.note, p.mode, p.owner); err != nil {
		s.reportWriteError(err)
	}
}

func (s *Service) writeDurable(ctx context.Context, n note.Note, mode note.Mode, owner string) (note.Note, error) {
	if mode == note.ModeCloud && s.remote != nil {
		written, err := s.remote.Upsert(ctx, n, owner)
		if err != nil {
			return n, err
		}
		s.recordWrite(n, written)
		s.publish(ctx, owner, feed.Event{Kind: feed.EventUpdate, NoteID: written.ID, Note: written})
		return written, nil
	}
	return n, s.local.Put(ctx, n)
}

// recordWrite remembers the stamp the backend assigned to one of our own
// writes, so the feed echo of that write can be recognized and skipped. The
// remote stamps at commit time; when no newer local edit landed while the
// call was in flight, the stamped copy also replaces the in-memory one,
// keeping both sides on the same clock.
func (s *Service) recordWrite(sent, written note.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if written.Updated.After(s.written[written.ID]) {
		s.written[written.ID] = written.Updated
	}
	if cur, ok := s.notes[written.ID]; ok && cur.Updated.Equal(sent.Updated) {
		s.notes[written.ID] = written
	}
}

func (s *Service) deleteDurable(ctx context.Context, id string, mode note.Mode, owner string) error {
	if mode == note.ModeCloud && s.remote != nil {
		if err := s.remote.Delete(ctx, id, owner); err != nil {
			return err
		}
		s.publish(ctx, owner, feed.Event{Kind: feed.EventDelete, NoteID: id})
		return nil
	}
	return s.local.Delete(ctx, id)
}

func (s *Service) publish(ctx context.Context, owner string, ev feed.Event) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, owner, ev); err != nil {
		log.Printf("notes: publish change event: %v", err)
	}
}

// applyRemote merges one push event into the in-memory collection. Events
// are idempotent: a push whose updated stamp is not newer than the local
// copy is a confirming no-op, so the feed can never clobber a fresher
// optimistic edit.
func (s *Service) applyRemote(ev feed.Event) {
	s.mu.Lock()
	changed := false
	switch ev.Kind {
	case feed.EventInsert, feed.EventUpdate:
		n := ev.Note
		n.Upgrade()
		// Echoes of this session's own writes carry a stamp we already
		// recorded; they must never displace a fresher optimistic edit.
		if last, ok := s.written[n.ID]; ok && !n.Updated.After(last) {
			break
		}
		existing, ok := s.notes[n.ID]
		if !ok || n.Updated.After(existing.Updated) {
			s.notes[n.ID] = n
			changed = true
		}
	case feed.EventDelete:
		if _, ok := s.notes[ev.NoteID]; ok {
			delete(s.notes, ev.NoteID)
			delete(s.written, ev.NoteID)
			if s.selected == ev.NoteID {
				s.selected = ""
			}
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		if ev.Kind == feed.EventDelete {
			s.unindex(ev.NoteID)
		} else {
			s.index(ev.Note)
		}
		s.notify()
	}
}

func (s *Service) index(n note.Note) {
	if s.indexer != nil {
		s.indexer.Index(n)
	}
}

func (s *Service) unindex(id string) {
	if s.indexer != nil {
		s.indexer.Remove(id)
	}
}

// Ping checks the backend selected by the current mode.
func (s *Service) Ping(ctx context.Context) error {
	if s.Mode() == note.ModeCloud && s.remote != nil {
		return s.remote.Ping(ctx)
	}
	return s.local.Ping(ctx)
}

// Close flushes pending writes and tears down the feed subscription. The
// service must not be used afterwards.
func (s *Service) Close() {
	s.writer.flushAll()
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
