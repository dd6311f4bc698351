package admin

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"cryptobot/pkg/storage/jsonfile"

	"go.uber.org/zap"
)

// DocumentStore persists the admin document. *jsonfile.Store satisfies it.
type DocumentStore interface {
	Read(v any) error
	Write(v any) error
	SetAside(now time.Time) (string, error)
}

type document struct {
	Admins       []int64 `json:"admins"`
	LogChannelID *int64  `json:"log_channel_id"`
}

// Registry is the set of administrators and the transaction log channel.
type Registry struct {
	mu         sync.RWMutex
	admins     map[int64]struct{}
	logChannel *int64

	store  DocumentStore
	logger *zap.Logger
}

func NewRegistry(store DocumentStore, logger *zap.Logger) *Registry {
	return &Registry{
		admins: make(map[int64]struct{}),
		store:  store,
		logger: logger.Named("admin"),
	}
}

func (r *Registry) Load() jsonfile.LoadResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doc document
	err := r.store.Read(&doc)
	switch {
	case err == nil:
		r.admins = make(map[int64]struct{}, len(doc.Admins))
		for _, id := range doc.Admins {
			r.admins[id] = struct{}{}
		}
		r.logChannel = doc.LogChannelID
		r.logger.Info("loaded admins", zap.Int("admins", len(r.admins)))
		return jsonfile.LoadResult{Status: jsonfile.Loaded}

	case jsonfile.IsNotExist(err):
		r.admins = make(map[int64]struct{})
		r.logChannel = nil
		res := jsonfile.LoadResult{Status: jsonfile.Initialized}
		if werr := r.save(); werr != nil {
			r.logger.Error("failed to persist empty admin document", zap.Error(werr))
			res.Cause = werr
		}
		r.logger.Info("initialized empty admin document")
		return res

	default:
		r.logger.Error("failed to load admins, starting empty", zap.Error(err))
		r.admins = make(map[int64]struct{})
		r.logChannel = nil
		res := jsonfile.LoadResult{Status: jsonfile.Recovered, Cause: err}
		if jsonfile.IsParse(err) {
			if path, aerr := r.store.SetAside(time.Now()); aerr != nil {
				r.logger.Error("failed to set corrupt admin document aside", zap.Error(aerr))
			} else {
				r.logger.Warn("corrupt admin document set aside", zap.String("path", path))
				res.SetAside = path
			}
		}
		return res
	}
}

// save writes the document. Must be called with mu held.
func (r *Registry) save() error {
	doc := document{Admins: r.sorted(), LogChannelID: r.logChannel}
	if err := r.store.Write(doc); err != nil {
		return fmt.Errorf("save admins: %w", err)
	}
	return nil
}

func (r *Registry) sorted() []int64 {
	ids := make([]int64, 0, len(r.admins))
	for id := range r.admins {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) IsAdmin(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[userID]
	return ok
}

// Add grants admin rights. It reports false if the user already had them.
func (r *Registry) Add(userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.admins[userID]; ok {
		return false, nil
	}
	r.admins[userID] = struct{}{}
	if err := r.save(); err != nil {
		delete(r.admins, userID)
		return false, err
	}
	r.logger.Info("admin added", zap.Int64("user_id", userID))
	return true, nil
}

// Remove revokes admin rights. It reports false if the user was not an admin.
func (r *Registry) Remove(userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.admins[userID]; !ok {
		return false, nil
	}
	delete(r.admins, userID)
	if err := r.save(); err != nil {
		r.admins[userID] = struct{}{}
		return false, err
	}
	r.logger.Info("admin removed", zap.Int64("user_id", userID))
	return true, nil
}

// Seed adds bootstrap owners that are not admins yet.
func (r *Registry) Seed(ids ...int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := r.admins[id]; !ok {
			r.admins[id] = struct{}{}
			added++
		}
	}
	if added == 0 {
		return nil
	}
	r.logger.Info("seeded admins", zap.Int("added", added))
	return r.save()
}

// List returns the admin ids, sorted.
func (r *Registry) List() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins)
}

func (r *Registry) SetLogChannel(channelID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.logChannel
	r.logChannel = &channelID
	if err := r.save(); err != nil {
		r.logChannel = prev
		return err
	}
	r.logger.Info("log channel set", zap.Int64("channel_id", channelID))
	return nil
}

// LogChannel returns the configured log channel; ok is false when unset.
func (r *Registry) LogChannel() (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.logChannel == nil {
		return 0, false
	}
	return *r.logChannel, true
}

func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.save()
}
