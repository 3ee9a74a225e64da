package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/meshlab-core/internal/audit"
	"github.com/nerrad567/meshlab-core/internal/auth"
	"github.com/nerrad567/meshlab-core/internal/booking"
)

// auditChanSize bounds the queue between handlers and the audit writer.
// A full queue drops the entry; the request is never held up.
const auditChanSize = 256

// auditEntityTypes are the entity types handlers record, and the only
// values the list endpoint accepts for entity_type.
var auditEntityTypes = map[string]bool{
	audit.EntityBooking: true,
	audit.EntityDevice:  true,
	audit.EntityPairing: true,
	audit.EntityGroup:   true,
}

// auditLog queues one entry for the writer goroutine.
//
// Queued from handlers after the change has succeeded:
//   - booking.create, booking.update, booking.cancel (via auditBooking)
//   - device.command with the payload sent to the bridge
//   - pairing.start, pairing.stop, pairing.confirm, pairing.discard
//   - group.update with the new name and description
func (s *Server) auditLog(action, entityType, entityID, userID string, details map[string]any) {
	if s.auditCh == nil {
		return
	}

	entry := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     "api",
		Details:    details,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log queue full, dropping entry",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
		)
	}
}

// auditBooking records a booking change. When staff act on a student's
// booking the owner is kept in on_behalf_of, so the trail shows both.
func (s *Server) auditBooking(action string, caller auth.Identity, b *booking.Booking) {
	details := map[string]any{
		"device_id":  b.DeviceID,
		"start_time": b.Start,
		"end_time":   b.End,
		"status":     b.Status,
	}
	if b.UserID != caller.UserID {
		details["on_behalf_of"] = b.UserID
	}
	s.auditLog(action, audit.EntityBooking, b.ID, caller.UserID, details)
}

// drainAuditLog writes queued entries one at a time until ctx is
// cancelled, then flushes what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.AuditLog) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}

// handleListAuditLogs returns one page of the audit trail, newest first.
//
// Query parameters:
//   - action: booking.create, device.command, pairing.start, ...
//   - entity_type: booking, device, pairing or group (anything else is 400)
//   - entity_id: a booking ID, device IEEE address or group ID
//   - user_id: the acting user
//   - limit: non-negative integer, default 50, capped at 200
//   - offset: non-negative integer
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}
	if filter.EntityType != "" && !auditEntityTypes[filter.EntityType] {
		writeBadRequest(w, "unknown entity_type: "+filter.EntityType)
		return
	}

	var ok bool
	if filter.Limit, ok = queryCount(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = queryCount(w, q.Get("offset"), "offset"); !ok {
		return
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// queryCount parses an optional non-negative integer parameter, writing a
// 400 and returning false when it is malformed.
func queryCount(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
