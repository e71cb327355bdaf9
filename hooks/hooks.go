package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/nexusevent/core"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// Record lifecycle
	EventPreInsert  EventType = "PreInsert"
	EventPostInsert EventType = "PostInsert"
	EventPostQuery  EventType = "PostQuery"

	// Files
	EventPostCreateFile EventType = "PostCreateFile"
	EventPreEvict       EventType = "PreEvict"
	EventPostEvictFile  EventType = "PostEvictFile"
	EventPostEvict      EventType = "PostEvict"
	EventPostClear      EventType = "PostClear"

	// Backup
	EventPostBackup  EventType = "PostBackup"
	EventPostRestore EventType = "PostRestore"
)

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event. Pre events
	// run synchronously and a listener error aborts the operation.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreInsertPayload carries the record about to be stored. Listeners may
// modify it; returning an error rejects the insert.
type PreInsertPayload struct {
	Record *core.Record
}

func NewPreInsertEvent(payload PreInsertPayload) HookEvent {
	return &BaseEvent{eventType: EventPreInsert, payload: payload}
}

// PostInsertPayload describes a finished insert.
type PostInsertPayload struct {
	Record *core.Record
	File   string
	Error  error
}

func NewPostInsertEvent(payload PostInsertPayload) HookEvent {
	return &BaseEvent{eventType: EventPostInsert, payload: payload}
}

// PostQueryPayload describes an executed store query.
type PostQueryPayload struct {
	Argument     core.QueryArgument
	Rows         int
	FilesScanned int
	Duration     time.Duration
	Error        error
}

func NewPostQueryEvent(payload PostQueryPayload) HookEvent {
	return &BaseEvent{eventType: EventPostQuery, payload: payload}
}

// FilePayload names an event file.
type FilePayload struct {
	Path     string
	Category core.Category
	Size     int64
}

func NewPostCreateFileEvent(payload FilePayload) HookEvent {
	return &BaseEvent{eventType: EventPostCreateFile, payload: payload}
}

func NewPostEvictFileEvent(payload FilePayload) HookEvent {
	return &BaseEvent{eventType: EventPostEvictFile, payload: payload}
}

// EvictPayload summarises an eviction pass. Before the pass only
// TotalBytes is filled.
type EvictPayload struct {
	TotalBytes   map[core.Category]int64
	DeletedFiles int
	FreedBytes   int64
}

func NewPreEvictEvent(payload EvictPayload) HookEvent {
	return &BaseEvent{eventType: EventPreEvict, payload: payload}
}

func NewPostEvictEvent(payload EvictPayload) HookEvent {
	return &BaseEvent{eventType: EventPostEvict, payload: payload}
}

// PostClearPayload reports the files removed by Clear.
type PostClearPayload struct {
	DeletedFiles int
}

func NewPostClearEvent(payload PostClearPayload) HookEvent {
	return &BaseEvent{eventType: EventPostClear, payload: payload}
}

// BackupPayload describes a backup or restore run.
type BackupPayload struct {
	Archive  string
	Skipped  bool
	Duration time.Duration
	Error    error
}

func NewPostBackupEvent(payload BackupPayload) HookEvent {
	return &BaseEvent{eventType: EventPostBackup, payload: payload}
}

func NewPostRestoreEvent(payload BackupPayload) HookEvent {
	return &BaseEvent{eventType: EventPostRestore, payload: payload}
}

// HookListener defines the interface for components that want to listen to events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a "Pre" hook cancels the operation.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync reports whether a post hook may run in its own goroutine.
	IsAsync() bool
}

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// Slices are kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
// Listeners of equal priority run in registration order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item
	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")
	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if isPreHook && item.listener.IsAsync() {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}
		m.wg.Add(1)
		go func(current *listenerWithPriority) {
			defer m.wg.Done()
			if err := current.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", current.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}

// Nop returns a manager with no listeners, for components built without hooks.
func Nop() HookManager {
	return NewHookManager(nil)
}
