package engine

import (
	"context"
	"time"

	"choreboard/internal/model"
	"choreboard/internal/remote"
	"choreboard/internal/task"
)

// SweepExpirations applies the time-based expire transition to every open
// or pending instance whose guard holds. Safe to run repeatedly and from
// several devices at once: each expiry is mirrored under a compare-and-set,
// and losing just means another device got there first.
func (e *Engine) SweepExpirations(ctx context.Context) int {
	now := e.clock()
	expired := 0

	for _, inst := range e.local.Snapshot().Instances {
		next, ok := task.Expire(inst, now)
		if !ok {
			continue
		}
		e.local.UpsertInstance(next)
		expired++

		applied, canon, err := e.svc.UpdateInstanceStatusIf(ctx, inst.Status, next)
		if err != nil {
			e.logger.Warn("expire mirror failed, keeping optimistic state", "instance", inst.ID, "error", err)
			continue
		}
		e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpUpdate, Kind: model.KindInstance, Instance: &canon})
		if !applied {
			e.logger.Debug("expire lost compare-and-set", "instance", inst.ID, "canonical_status", canon.Status)
		}
	}

	if expired > 0 {
		e.logger.Info("expiration sweep", "expired", expired)
	}
	return expired
}

// RegenerateRecurring creates today's instance for every enabled,
// non-archived recurring-daily template and every eligible dependent that
// does not already have one. The existence check, exact on template,
// assignee, and the calendar day of CreatedAt, is the sole duplicate
// guard, so calling this any number of times within a day creates at most
// one instance per pair.
func (e *Engine) RegenerateRecurring(ctx context.Context) int {
	now := e.clock()
	snap := e.local.Snapshot()
	created := 0

	for _, tpl := range snap.Templates {
		if tpl.ScheduleType != model.ScheduleRecurringDaily || !tpl.Enabled || tpl.Archived {
			continue
		}
		for _, m := range snap.Members {
			if m.Role != model.RoleDependent || !tpl.EligibleFor(m.Age) {
				continue
			}
			if hasInstanceToday(snap.Instances, tpl.ID, m.ID, now) {
				continue
			}

			eod := task.EndOfDay(now)
			inst := model.TaskInstance{
				ID:           model.NewLocalID(),
				FamilyID:     e.familyID,
				TemplateID:   tpl.ID,
				AssignedTo:   m.ID,
				CreatedBy:    SystemActor,
				Status:       model.StatusOpen,
				ScheduleType: model.ScheduleRecurringDaily,
				Points:       tpl.Points,
				DueAt:        eod,
				ExpiresAt:    &eod,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			e.local.UpsertInstance(inst)
			created++

			canon, err := e.svc.InsertInstance(ctx, inst)
			if err != nil {
				e.logger.Warn("regenerated instance mirror failed", "template", tpl.ID, "member", m.ID, "error", err)
				continue
			}
			e.recon.Promote(model.KindInstance, inst.ID, canon.ID)
			e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindInstance, Instance: &canon})
		}
	}

	if created > 0 {
		e.logger.Info("recurring regeneration", "created", created)
	}
	return created
}

func hasInstanceToday(instances map[string]model.TaskInstance, templateID, memberID string, now time.Time) bool {
	for _, inst := range instances {
		if inst.TemplateID != templateID || inst.AssignedTo != memberID {
			continue
		}
		if inst.Status == model.StatusExpired {
			continue
		}
		if task.SameDay(now, inst.CreatedAt) {
			return true
		}
	}
	return false
}
