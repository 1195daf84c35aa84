package coordinator

import (
	"context"
	"time"

	"github.com/colonyops/crew/internal/core/config"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/data/stores"
	"github.com/colonyops/crew/pkg/tmpl"
)

func (s *Service) blockNotice(t task.Task, worker, reason string) string {
	data := config.BlockNoticeData{
		ID:       t.ID,
		Title:    t.Title,
		Category: t.Category,
		Reason:   reason,
		Worker:   worker,
		Vars:     s.opts.Vars,
	}
	return s.render("block", s.opts.BlockNotice, config.DefaultBlockNotice, data)
}

func (s *Service) reclaimNotice(t task.Task, holder string, idle time.Duration) string {
	data := config.ReclaimNoticeData{
		ID:     t.ID,
		Title:  t.Title,
		Holder: holder,
		Idle:   idle.Round(time.Second),
		Vars:   s.opts.Vars,
	}
	return s.render("reclaim", s.opts.ReclaimNotice, config.DefaultReclaimNotice, data)
}

// render falls back to the built-in template when the configured one fails
// so a notice is always written.
func (s *Service) render(kind, src, fallback string, data any) string {
	if src != "" {
		out, err := tmpl.Render(src, data)
		if err == nil {
			return out
		}
		s.log.Warn().Err(err).Str("notice", kind).Msg("notice template failed, using default")
	}

	out, err := tmpl.Render(fallback, data)
	if err != nil {
		s.log.Error().Err(err).Str("notice", kind).Msg("default notice template failed")
		return kind
	}
	return out
}

// messageTime returns a timestamp no earlier than the last message written.
// Caller must hold s.mu.
func (s *Service) messageTime(ctx context.Context) (time.Time, error) {
	if !s.msgClockReady {
		latest, err := s.repo.Messages.LatestCreatedAt(ctx)
		if err != nil {
			return time.Time{}, err
		}
		s.lastMsgAt = latest
		s.msgClockReady = true
	}

	now := s.now()
	if now.Before(s.lastMsgAt) {
		now = s.lastMsgAt
	}
	return now, nil
}

// appendMessage writes m inside the caller's transaction. Caller must hold
// s.mu. The message clock only advances once the append succeeds; a rolled
// back transaction can leave it slightly ahead, which keeps it monotonic.
func (s *Service) appendMessage(ctx context.Context, r *stores.Repo, ev *emitter, m messaging.Message) (messaging.Message, error) {
	at, err := s.messageTime(ctx)
	if err != nil {
		return messaging.Message{}, err
	}

	m.ID = ""
	m.Seq = 0
	m.Status = messaging.StatusPending
	m.DeliveredAt = nil
	m.ReadAt = nil
	m.CreatedAt = at

	stored, err := r.Messages.Append(ctx, m)
	if err != nil {
		return messaging.Message{}, err
	}
	s.lastMsgAt = at
	ev.messagePublished(stored)
	return stored, nil
}

func systemNotice(t task.Task, content string) messaging.Message {
	return messaging.Message{
		SessionKey: t.SessionKey(),
		TaskID:     t.ID,
		Sender:     messaging.SenderSystem,
		Content:    content,
	}
}
