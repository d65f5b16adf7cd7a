// Package engine ties the pure transition logic to the local projection and
// the remote store. Every operation applies optimistically to the local
// store first, then mirrors to the remote; the canonical response (or the
// racing push event) is folded back through the reconciler. A failed mirror
// keeps the local state: stale but not wrong, and correctable by any later
// canonical push.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"choreboard/internal/ledger"
	"choreboard/internal/model"
	"choreboard/internal/reactive"
	"choreboard/internal/reconcile"
	"choreboard/internal/remote"
	"choreboard/internal/task"
)

// SystemActor is recorded as creator on instances minted by the scheduler.
const SystemActor = "system"

type Engine struct {
	familyID string
	local    *reactive.Store
	svc      remote.Service
	recon    *reconcile.Reconciler
	clock    func() time.Time
	logger   *slog.Logger
}

type Option func(*Engine)

// WithClock injects a time source. Tests pin it.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func New(familyID string, local *reactive.Store, svc remote.Service, recon *reconcile.Reconciler, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		familyID: familyID,
		local:    local,
		svc:      svc,
		recon:    recon,
		clock:    time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Local returns the reactive store for readers.
func (e *Engine) Local() *reactive.Store {
	return e.local
}

// Start pulls the canonical family state and attaches to the push channel.
// Failure is not fatal: the device keeps working from its cached projection
// and converges whenever connectivity returns.
func (e *Engine) Start(ctx context.Context) error {
	fam, err := e.svc.Fetch(ctx, e.familyID)
	if err != nil {
		e.logger.Warn("initial fetch failed, running from cache", "error", err)
	} else {
		e.foldFamily(fam)
	}

	events, err := e.svc.Subscribe(ctx, e.familyID)
	if err != nil {
		e.logger.Warn("subscribe failed, running without push", "error", err)
		return fmt.Errorf("subscribe: %w", err)
	}

	go func() {
		for ev := range events {
			e.recon.ApplyEvent(ev)
		}
	}()
	return nil
}

func (e *Engine) foldFamily(fam remote.Family) {
	for i := range fam.Members {
		e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindMember, Member: &fam.Members[i]})
	}
	for i := range fam.Templates {
		e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindTemplate, Template: &fam.Templates[i]})
	}
	for i := range fam.Instances {
		e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindInstance, Instance: &fam.Instances[i]})
	}
	for i := range fam.Ledger {
		e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindLedgerEntry, Entry: &fam.Ledger[i]})
	}
}

// RequestCompletion marks a task as done by actor. In a single-guardian
// family where the actor is that guardian the task is approved on the spot
// and the award appended; otherwise it waits for a different guardian.
// Calling it on a non-open instance is a silent no-op.
func (e *Engine) RequestCompletion(ctx context.Context, instanceID string, actor model.Member) error {
	inst, ok := e.local.Instance(instanceID)
	if !ok {
		return reactive.ErrNotFound
	}
	now := e.clock()
	prev := inst.Status

	next, out := task.RequestCompletion(inst, actor, e.local.Snapshot().GuardianCount(), now)
	if !out.Applied {
		e.logger.Debug("completion request is a no-op", "instance", instanceID, "status", inst.Status)
		return nil
	}

	e.local.UpsertInstance(next)

	var award *model.LedgerEntry
	if out.LedgerDelta != 0 {
		entry := e.mintAward(next, out.LedgerDelta, actor.ID, now)
		award = &entry
	}

	return e.mirrorTransition(ctx, prev, next, award)
}

// Approve commits a pending completion. The remote store applies it with a
// compare-and-set, so when two guardians race only the first commits; the
// loser's optimistic transition (and its optimistic award) is corrected
// here as soon as the canonical row comes back.
func (e *Engine) Approve(ctx context.Context, instanceID string, approver model.Member) error {
	inst, ok := e.local.Instance(instanceID)
	if !ok {
		return reactive.ErrNotFound
	}
	now := e.clock()
	prev := inst.Status

	next, out := task.Approve(inst, approver, now)
	if !out.Applied {
		e.logger.Debug("approve is a no-op", "instance", instanceID, "status", inst.Status, "approver", approver.ID)
		return nil
	}

	e.local.UpsertInstance(next)

	var award *model.LedgerEntry
	if out.LedgerDelta != 0 {
		entry := e.mintAward(next, out.LedgerDelta, approver.ID, now)
		award = &entry
	}

	return e.mirrorTransition(ctx, prev, next, award)
}

// Reject returns a pending completion to open, discarding the attempt.
func (e *Engine) Reject(ctx context.Context, instanceID string, approver model.Member) error {
	inst, ok := e.local.Instance(instanceID)
	if !ok {
		return reactive.ErrNotFound
	}
	now := e.clock()
	prev := inst.Status

	next, ok := task.Reject(inst, approver, now)
	if !ok {
		e.logger.Debug("reject is a no-op", "instance", instanceID, "status", inst.Status)
		return nil
	}

	e.local.UpsertInstance(next)
	return e.mirrorTransition(ctx, prev, next, nil)
}

// mintAward builds and optimistically applies the ledger entry for an
// approved instance.
func (e *Engine) mintAward(inst model.TaskInstance, delta int, createdBy string, now time.Time) model.LedgerEntry {
	reason := "Task approved"
	if tpl, ok := e.local.Template(inst.TemplateID); ok {
		reason = "Completed: " + tpl.Title
	}
	id := inst.ID
	entry := ledger.NewEntry(e.familyID, inst.AssignedTo, delta, reason, createdBy, &id, now)
	e.local.AppendLedger(entry)
	return entry
}

// mirrorTransition sends a status transition to the remote store under a
// compare-and-set and folds the canonical result back in. When the CAS
// loses, the optimistic award (never mirrored) is retracted; the canonical
// row already corrected the status.
func (e *Engine) mirrorTransition(ctx context.Context, expect model.Status, next model.TaskInstance, award *model.LedgerEntry) error {
	applied, canon, err := e.svc.UpdateInstanceStatusIf(ctx, expect, next)
	if err != nil {
		e.logger.Warn("transition mirror failed, keeping optimistic state", "instance", next.ID, "error", err)
		return fmt.Errorf("mirror transition: %w", err)
	}

	e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpUpdate, Kind: model.KindInstance, Instance: &canon})

	if !applied {
		if award != nil {
			e.local.RemoveLedger(award.ID, award.MemberID)
		}
		e.logger.Debug("transition lost compare-and-set", "instance", next.ID, "canonical_status", canon.Status)
		return nil
	}

	if award != nil {
		canonEntry, err := e.svc.AppendLedger(ctx, *award)
		if err != nil {
			e.logger.Warn("ledger mirror failed, keeping optimistic entry", "entry", award.ID, "error", err)
			return fmt.Errorf("mirror ledger entry: %w", err)
		}
		e.recon.Promote(model.KindLedgerEntry, award.ID, canonEntry.ID)
		e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindLedgerEntry, Entry: &canonEntry})
	}
	return nil
}

// AssignTask stamps a new instance from a template. Time-sensitive
// templates get an expiry a fixed window after creation; recurring-daily
// ones expire at the end of the due day.
func (e *Engine) AssignTask(ctx context.Context, templateID, assigneeID string, actor model.Member, dueAt time.Time) (model.TaskInstance, error) {
	tpl, ok := e.local.Template(templateID)
	if !ok {
		return model.TaskInstance{}, reactive.ErrNotFound
	}
	if !tpl.Enabled || tpl.Archived {
		return model.TaskInstance{}, fmt.Errorf("template %q is not assignable", tpl.Title)
	}
	member, ok := e.local.Member(assigneeID)
	if !ok {
		return model.TaskInstance{}, reactive.ErrNotFound
	}
	if !tpl.EligibleFor(member.Age) {
		return model.TaskInstance{}, fmt.Errorf("%s is outside the age range for %q", member.Name, tpl.Title)
	}

	now := e.clock()
	inst := model.TaskInstance{
		ID:           model.NewLocalID(),
		FamilyID:     e.familyID,
		TemplateID:   templateID,
		AssignedTo:   assigneeID,
		CreatedBy:    actor.ID,
		Status:       model.StatusOpen,
		ScheduleType: tpl.ScheduleType,
		Points:       tpl.Points,
		DueAt:        dueAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	switch tpl.ScheduleType {
	case model.ScheduleTimeSensitive:
		if tpl.TimeWindowMinutes > 0 {
			exp := now.Add(time.Duration(tpl.TimeWindowMinutes) * time.Minute)
			inst.ExpiresAt = &exp
		}
	case model.ScheduleRecurringDaily:
		exp := task.EndOfDay(dueAt)
		inst.ExpiresAt = &exp
	}

	e.local.UpsertInstance(inst)

	canon, err := e.svc.InsertInstance(ctx, inst)
	if err != nil {
		e.logger.Warn("instance mirror failed, keeping optimistic instance", "instance", inst.ID, "error", err)
		return inst, fmt.Errorf("mirror instance: %w", err)
	}
	e.recon.Promote(model.KindInstance, inst.ID, canon.ID)
	e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindInstance, Instance: &canon})
	inst, _ = e.local.Instance(canon.ID)
	return inst, nil
}

// Deduct spends points from a member. The entry records the true signed
// delta even when it overdraws; only the displayed balance floors at zero.
func (e *Engine) Deduct(ctx context.Context, memberID string, points int, reason string, actor model.Member) (model.LedgerEntry, error) {
	if points <= 0 {
		return model.LedgerEntry{}, fmt.Errorf("deduction must be positive, got %d", points)
	}
	return e.appendEntry(ctx, memberID, -points, reason, actor)
}

// AwardBonus grants points outside the task flow.
func (e *Engine) AwardBonus(ctx context.Context, memberID string, points int, reason string, actor model.Member) (model.LedgerEntry, error) {
	if points <= 0 {
		return model.LedgerEntry{}, fmt.Errorf("bonus must be positive, got %d", points)
	}
	return e.appendEntry(ctx, memberID, points, reason, actor)
}

func (e *Engine) appendEntry(ctx context.Context, memberID string, delta int, reason string, actor model.Member) (model.LedgerEntry, error) {
	if !actor.IsGuardian() {
		return model.LedgerEntry{}, fmt.Errorf("only guardians may adjust points")
	}
	if _, ok := e.local.Member(memberID); !ok {
		return model.LedgerEntry{}, reactive.ErrNotFound
	}

	entry := ledger.NewEntry(e.familyID, memberID, delta, reason, actor.ID, nil, e.clock())
	e.local.AppendLedger(entry)

	canon, err := e.svc.AppendLedger(ctx, entry)
	if err != nil {
		e.logger.Warn("ledger mirror failed, keeping optimistic entry", "entry", entry.ID, "error", err)
		return entry, fmt.Errorf("mirror ledger entry: %w", err)
	}
	e.recon.Promote(model.KindLedgerEntry, entry.ID, canon.ID)
	e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindLedgerEntry, Entry: &canon})
	return canon, nil
}

// AddMember creates a family member. Role is fixed from here on.
func (e *Engine) AddMember(ctx context.Context, name string, role model.Role, age int, tags []string) (model.Member, error) {
	now := e.clock()
	m := model.Member{
		ID:        model.NewLocalID(),
		FamilyID:  e.familyID,
		Name:      name,
		Role:      role,
		Age:       age,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.local.UpsertMember(m)

	canon, err := e.svc.InsertMember(ctx, m)
	if err != nil {
		e.logger.Warn("member mirror failed, keeping optimistic member", "member", m.ID, "error", err)
		return m, fmt.Errorf("mirror member: %w", err)
	}
	e.recon.Promote(model.KindMember, m.ID, canon.ID)
	e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindMember, Member: &canon})
	m, _ = e.local.Member(canon.ID)
	return m, nil
}

// AddTemplate creates a task template.
func (e *Engine) AddTemplate(ctx context.Context, tpl model.TaskTemplate) (model.TaskTemplate, error) {
	now := e.clock()
	tpl.ID = model.NewLocalID()
	tpl.FamilyID = e.familyID
	tpl.Enabled = true
	tpl.Archived = false
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	e.local.UpsertTemplate(tpl)

	canon, err := e.svc.InsertTemplate(ctx, tpl)
	if err != nil {
		e.logger.Warn("template mirror failed, keeping optimistic template", "template", tpl.ID, "error", err)
		return tpl, fmt.Errorf("mirror template: %w", err)
	}
	e.recon.Promote(model.KindTemplate, tpl.ID, canon.ID)
	e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpInsert, Kind: model.KindTemplate, Template: &canon})
	tpl, _ = e.local.Template(canon.ID)
	return tpl, nil
}

// ArchiveTemplate soft-deletes a template. Instances keep their reference;
// templates are never removed outright.
func (e *Engine) ArchiveTemplate(ctx context.Context, templateID string) error {
	tpl, ok := e.local.Template(templateID)
	if !ok {
		return reactive.ErrNotFound
	}
	tpl.Archived = true
	tpl.Enabled = false
	tpl.UpdatedAt = e.clock()
	e.local.UpsertTemplate(tpl)

	canon, err := e.svc.UpdateTemplate(ctx, tpl)
	if err != nil {
		e.logger.Warn("archive mirror failed, keeping optimistic archive", "template", templateID, "error", err)
		return fmt.Errorf("mirror template archive: %w", err)
	}
	e.recon.ApplyEvent(remote.ChangeEvent{Op: model.OpUpdate, Kind: model.KindTemplate, Template: &canon})
	return nil
}
