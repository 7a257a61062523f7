package daemon

import (
	"context"
	"fmt"

	"relay/internal/logging"
	"relay/internal/store"
	"relay/internal/types"
)

// Notification summarizes a waiting run for push delivery to registered
// devices. The actual transport (APNs and friends) is an external
// collaborator behind NotificationDispatcher.
type Notification struct {
	RunID   string
	State   types.RunState
	Kind    types.InteractionKind
	Tool    string
	Message string
	Tokens  []string
}

type NotificationDispatcher interface {
	Dispatch(ctx context.Context, note Notification) error
}

// NotificationService resolves the pending interaction and device tokens for
// a waiting run and hands the summary to the dispatcher.
type NotificationService struct {
	interactions store.InteractionStore
	devices      store.DeviceStore
	dispatcher   NotificationDispatcher
	logger       logging.Logger
}

func NewNotificationService(interactions store.InteractionStore, devices store.DeviceStore, dispatcher NotificationDispatcher, logger logging.Logger) *NotificationService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &NotificationService{
		interactions: interactions,
		devices:      devices,
		dispatcher:   dispatcher,
		logger:       logger,
	}
}

func (s *NotificationService) NotifyWaiting(ctx context.Context, event *types.RunEvent) {
	if s == nil || s.dispatcher == nil || event == nil {
		return
	}
	change, ok := event.StateChange()
	if !ok || !change.To.Waiting() {
		return
	}

	note := Notification{
		RunID: event.RunID,
		State: change.To,
	}
	if interaction, ok, err := s.interactions.OpenForRun(ctx, event.RunID); err != nil {
		s.logger.Warn("notify_load_interaction_failed",
			logging.F("run_id", event.RunID),
			logging.F("error", err),
		)
	} else if ok {
		note.Kind = interaction.Kind
		note.Tool = interaction.Tool
	}
	note.Message = notificationMessage(note)

	devices, err := s.devices.List(ctx)
	if err != nil {
		s.logger.Warn("notify_load_devices_failed",
			logging.F("run_id", event.RunID),
			logging.F("error", err),
		)
		return
	}
	for _, device := range devices {
		if device == nil || device.Token == "" {
			continue
		}
		note.Tokens = append(note.Tokens, device.Token)
	}
	if len(note.Tokens) == 0 {
		return
	}

	if err := s.dispatcher.Dispatch(ctx, note); err != nil {
		s.logger.Warn("notify_dispatch_failed",
			logging.F("run_id", event.RunID),
			logging.F("error", err),
		)
	}
}

func notificationMessage(note Notification) string {
	switch note.Kind {
	case types.InteractionApproval:
		if note.Tool != "" {
			return fmt.Sprintf("Run wants to use %s and needs your approval", note.Tool)
		}
		return "Run is waiting for your approval"
	case types.InteractionInput:
		return "Run is waiting for your input"
	default:
		return "Run is waiting for you"
	}
}

// logNotificationDispatcher records notifications instead of delivering
// them; the daemon uses it until a push transport is wired in.
type logNotificationDispatcher struct {
	logger logging.Logger
}

func NewLogNotificationDispatcher(logger logging.Logger) NotificationDispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &logNotificationDispatcher{logger: logger}
}

func (d *logNotificationDispatcher) Dispatch(ctx context.Context, note Notification) error {
	d.logger.Info("notification",
		logging.F("run_id", note.RunID),
		logging.F("state", string(note.State)),
		logging.F("kind", string(note.Kind)),
		logging.F("tool", note.Tool),
		logging.F("devices", len(note.Tokens)),
	)
	return nil
}
