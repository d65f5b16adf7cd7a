package engine

import (
	"context"
	"testing"
	"time"

	"choreboard/internal/model"
)

func seedRecurringTemplate(t *testing.T, f *fakeRemote, d *device, minAge, maxAge *int) model.TaskTemplate {
	t.Helper()
	tpl, err := f.InsertTemplate(context.Background(), model.TaskTemplate{
		FamilyID: "fam-1", Title: "Make your bed", Points: 1,
		ScheduleType: model.ScheduleRecurringDaily,
		MinAge:       minAge, MaxAge: maxAge,
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("seed template: %v", err)
	}
	f.drainEvents(d.recon)
	return tpl
}

func seedMembers(t *testing.T, f *fakeRemote, d *device, members ...model.Member) {
	t.Helper()
	for _, m := range members {
		if _, err := f.InsertMember(context.Background(), m); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	f.drainEvents(d.recon)
}

func openInstancesFor(d *device, templateID, memberID string) []model.TaskInstance {
	var out []model.TaskInstance
	for _, inst := range d.store.Snapshot().Instances {
		if inst.TemplateID == templateID && inst.AssignedTo == memberID && inst.Status != model.StatusExpired {
			out = append(out, inst)
		}
	}
	return out
}

func TestRegenerateCreatesOnePerEligibleDependent(t *testing.T) {
	f := newFakeRemote()
	d := newDevice(t, f, testNow)
	seedMembers(t, f, d,
		model.Member{FamilyID: "fam-1", Name: "Mara", Role: model.RoleGuardian, Age: 38},
		model.Member{FamilyID: "fam-1", Name: "Alya", Role: model.RoleDependent, Age: 8},
		model.Member{FamilyID: "fam-1", Name: "Ben", Role: model.RoleDependent, Age: 5},
	)
	minAge := 7
	tpl := seedRecurringTemplate(t, f, d, &minAge, nil)

	created := d.eng.RegenerateRecurring(context.Background())
	if created != 1 {
		t.Fatalf("created = %d, want 1 (only Alya is eligible)", created)
	}

	alya := remoteMemberID(f, "Alya")
	insts := openInstancesFor(d, tpl.ID, alya)
	if len(insts) != 1 {
		t.Fatalf("instances for Alya = %d, want 1", len(insts))
	}
	inst := insts[0]
	if inst.ExpiresAt == nil || inst.ExpiresAt.Day() != testNow.Day() {
		t.Error("regenerated instance should expire at end of its day")
	}
	if inst.CreatedBy != SystemActor {
		t.Errorf("created_by = %q, want %q", inst.CreatedBy, SystemActor)
	}
	if n := openInstancesFor(d, tpl.ID, remoteMemberID(f, "Ben")); len(n) != 0 {
		t.Error("ineligible dependent received an instance")
	}
	if n := openInstancesFor(d, tpl.ID, remoteMemberID(f, "Mara")); len(n) != 0 {
		t.Error("guardian received a recurring instance")
	}
}

func TestRegenerateTwiceSameDayIsIdempotent(t *testing.T) {
	f := newFakeRemote()
	d := newDevice(t, f, testNow)
	seedMembers(t, f, d,
		model.Member{FamilyID: "fam-1", Name: "Alya", Role: model.RoleDependent, Age: 8},
	)
	tpl := seedRecurringTemplate(t, f, d, nil, nil)

	ctx := context.Background()
	if created := d.eng.RegenerateRecurring(ctx); created != 1 {
		t.Fatalf("first run created = %d, want 1", created)
	}
	if created := d.eng.RegenerateRecurring(ctx); created != 0 {
		t.Errorf("second run created = %d, want 0", created)
	}

	alya := remoteMemberID(f, "Alya")
	if insts := openInstancesFor(d, tpl.ID, alya); len(insts) != 1 {
		t.Errorf("non-expired instances = %d, want 1", len(insts))
	}
}

func TestRegenerateNextDayCreatesFresh(t *testing.T) {
	f := newFakeRemote()
	clock := testNow
	d := newDeviceWithClock(t, f, func() time.Time { return clock })
	seedMembers(t, f, d,
		model.Member{FamilyID: "fam-1", Name: "Alya", Role: model.RoleDependent, Age: 8},
	)
	tpl := seedRecurringTemplate(t, f, d, nil, nil)

	ctx := context.Background()
	if created := d.eng.RegenerateRecurring(ctx); created != 1 {
		t.Fatalf("day one created = %d, want 1", created)
	}

	clock = testNow.Add(24 * time.Hour)
	d.eng.SweepExpirations(ctx)
	if created := d.eng.RegenerateRecurring(ctx); created != 1 {
		t.Errorf("day two created = %d, want 1", created)
	}

	alya := remoteMemberID(f, "Alya")
	if insts := openInstancesFor(d, tpl.ID, alya); len(insts) != 1 {
		t.Errorf("non-expired instances on day two = %d, want 1", len(insts))
	}
}

func TestRegenerateSkipsArchivedAndDisabled(t *testing.T) {
	f := newFakeRemote()
	d := newDevice(t, f, testNow)
	seedMembers(t, f, d,
		model.Member{FamilyID: "fam-1", Name: "Alya", Role: model.RoleDependent, Age: 8},
	)
	tpl := seedRecurringTemplate(t, f, d, nil, nil)

	if err := d.eng.ArchiveTemplate(context.Background(), tpl.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if created := d.eng.RegenerateRecurring(context.Background()); created != 0 {
		t.Errorf("created = %d from archived template, want 0", created)
	}
}

func TestSweepExpiresPastInstances(t *testing.T) {
	f := newFakeRemote()
	d := newDevice(t, f, testNow)
	seedMembers(t, f, d,
		model.Member{FamilyID: "fam-1", Name: "Alya", Role: model.RoleDependent, Age: 8},
	)

	ctx := context.Background()
	past := testNow.Add(-time.Hour)
	for _, status := range []model.Status{model.StatusOpen, model.StatusPendingApproval} {
		inst, err := f.InsertInstance(ctx, model.TaskInstance{
			FamilyID: "fam-1", TemplateID: "tpl-x", AssignedTo: remoteMemberID(f, "Alya"),
			Status: status, ScheduleType: model.ScheduleOneTime,
			DueAt: past, ExpiresAt: &past, CreatedAt: past.Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("insert instance: %v", err)
		}
		_ = inst
	}
	approvedAt := past
	approved, err := f.InsertInstance(ctx, model.TaskInstance{
		FamilyID: "fam-1", TemplateID: "tpl-x", AssignedTo: remoteMemberID(f, "Alya"),
		Status: model.StatusApproved, ScheduleType: model.ScheduleOneTime,
		DueAt: past, ExpiresAt: &approvedAt, CreatedAt: past.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("insert approved: %v", err)
	}
	f.drainEvents(d.recon)

	expired := d.eng.SweepExpirations(ctx)
	if expired != 2 {
		t.Fatalf("expired = %d, want 2", expired)
	}

	for _, inst := range d.store.Snapshot().Instances {
		if inst.ID == approved.ID {
			if inst.Status != model.StatusApproved {
				t.Error("approved instance reclassified by sweep")
			}
			continue
		}
		if inst.Status != model.StatusExpired {
			t.Errorf("instance %s status = %q, want expired", inst.ID, inst.Status)
		}
	}

	// Sweeping again finds nothing.
	if expired := d.eng.SweepExpirations(ctx); expired != 0 {
		t.Errorf("second sweep expired = %d, want 0", expired)
	}
}

func TestSweepFromTwoDevicesOnlyOneCommits(t *testing.T) {
	f := newFakeRemote()
	devA := newDevice(t, f, testNow)
	seedMembers(t, f, devA,
		model.Member{FamilyID: "fam-1", Name: "Alya", Role: model.RoleDependent, Age: 8},
	)

	ctx := context.Background()
	past := testNow.Add(-time.Hour)
	if _, err := f.InsertInstance(ctx, model.TaskInstance{
		FamilyID: "fam-1", TemplateID: "tpl-x", AssignedTo: remoteMemberID(f, "Alya"),
		Status: model.StatusOpen, ScheduleType: model.ScheduleOneTime,
		DueAt: past, ExpiresAt: &past, CreatedAt: past.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("insert instance: %v", err)
	}
	f.drainEvents(devA.recon)

	devB := newDevice(t, f, testNow)
	f.drainEvents(devB.recon)

	// Both devices sweep the same instance; the second CAS is a no-op and
	// neither errors.
	if n := devA.eng.SweepExpirations(ctx); n != 1 {
		t.Fatalf("device A expired = %d, want 1", n)
	}
	if n := devB.eng.SweepExpirations(ctx); n != 1 {
		t.Fatalf("device B applied locally = %d, want 1", n)
	}

	f.mu.Lock()
	updates := 0
	for _, ev := range f.events {
		if ev.Kind == model.KindInstance && ev.Op == model.OpUpdate {
			updates++
		}
	}
	f.mu.Unlock()
	if updates != 1 {
		t.Errorf("canonical status updates = %d, want 1", updates)
	}
}
