package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shieldsms/shield/internal/bus"
	"github.com/shieldsms/shield/internal/status"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func strp(s string) *string   { return &s }
func f64p(f float64) *float64 { return &f }

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, run it again to check idempotency.
	applied, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if applied != 0 {
		t.Errorf("second Migrate() applied %d versions, want 0", applied)
	}

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2 (init + settings)", version)
	}
}

func TestInsertAndGet(t *testing.T) {
	db := testDB(t)

	id, err := db.Insert("BANK", "your package is waiting", 1000)
	if err != nil {
		t.Fatal(err)
	}

	m, err := db.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("record not found after insert")
	}
	if m.Status != status.Pending {
		t.Errorf("status = %s, want PENDING", m.Status)
	}
	if m.Label != nil || m.Score != nil {
		t.Error("label/score must be unset on a PENDING record")
	}
}

func TestIDsAreMonotone(t *testing.T) {
	db := testDB(t)

	id1, err := db.Insert("A", "first", 100)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := db.Insert("B", "second", 200)
	if err != nil {
		t.Fatal(err)
	}
	if id2 <= id1 {
		t.Errorf("ids not monotone: %d then %d", id1, id2)
	}
}

func TestListOrdering(t *testing.T) {
	db := testDB(t)

	if _, err := db.Insert("A", "old", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Insert("B", "new", 200); err != nil {
		t.Fatal(err)
	}
	// Same timestamp as the first record, higher id wins the tie.
	if _, err := db.Insert("C", "tie", 100); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d records, want 3", len(msgs))
	}
	if msgs[0].Body != "new" {
		t.Errorf("first = %q, want the t=200 record", msgs[0].Body)
	}
	if msgs[1].Body != "tie" || msgs[2].Body != "old" {
		t.Errorf("tie-break order wrong: %q then %q", msgs[1].Body, msgs[2].Body)
	}
}

func TestUpdateStatusIdempotent(t *testing.T) {
	db := testDB(t)

	id, err := db.Insert("BANK", "URGENT click http://bit.ly/x", 100)
	if err != nil {
		t.Fatal(err)
	}

	if err := db.UpdateStatus(id, status.Sent, strp("smishing"), f64p(0.9)); err != nil {
		t.Fatal(err)
	}
	// Applying the same terminal update twice must leave the same final state.
	if err := db.UpdateStatus(id, status.Sent, strp("smishing"), f64p(0.9)); err != nil {
		t.Fatalf("second identical update should be accepted: %v", err)
	}

	m, err := db.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != status.Sent {
		t.Errorf("status = %s, want SENT", m.Status)
	}
	if m.Label == nil || *m.Label != "smishing" {
		t.Errorf("label = %v, want smishing", m.Label)
	}
	if m.Score == nil || *m.Score != 0.9 {
		t.Errorf("score = %v, want 0.9", m.Score)
	}
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	db := testDB(t)

	id, err := db.Insert("A", "hello", 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateStatus(id, status.Sent, strp("legitimate"), f64p(0.1)); err != nil {
		t.Fatal(err)
	}

	// SENT is terminal, cannot go back to FAILED.
	if err := db.UpdateStatus(id, status.Failed, nil, nil); err == nil {
		t.Error("expected error for SENT -> FAILED")
	}
}

func TestUpdateStatusFailedNullsLabelScore(t *testing.T) {
	db := testDB(t)

	id, err := db.Insert("A", "hello", 100)
	if err != nil {
		t.Fatal(err)
	}
	// A FAILED update must not store a label even if one is passed.
	if err := db.UpdateStatus(id, status.Failed, strp("smishing"), f64p(0.8)); err != nil {
		t.Fatal(err)
	}

	m, err := db.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Label != nil || m.Score != nil {
		t.Error("label/score must stay null on a FAILED record")
	}
}

func TestFindByEvent(t *testing.T) {
	db := testDB(t)

	id, err := db.Insert("BANK", "hello", 1234)
	if err != nil {
		t.Fatal(err)
	}

	m, err := db.FindByEvent("BANK", "hello", 1234)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.ID != id {
		t.Errorf("FindByEvent = %v, want id %d", m, id)
	}

	m, err = db.FindByEvent("BANK", "hello", 9999)
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Error("expected nil for a non-matching event")
	}
}

func TestInsertWithTask(t *testing.T) {
	db := testDB(t)

	id, err := db.InsertWithTask("BANK", "hello", 100, 3)
	if err != nil {
		t.Fatal(err)
	}

	tasks, err := db.DueTasks(time.Now().UnixMilli(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	if tasks[0].MessageID != id {
		t.Errorf("task message_id = %d, want %d", tasks[0].MessageID, id)
	}
	if tasks[0].Body != "hello" {
		t.Errorf("task body = %q, want snapshot of the message body", tasks[0].Body)
	}
	if tasks[0].State != status.TaskEnqueued {
		t.Errorf("task state = %s, want ENQUEUED", tasks[0].State)
	}
}

func TestClaimTaskIsExclusive(t *testing.T) {
	db := testDB(t)

	if _, err := db.InsertWithTask("A", "hello", 100, 3); err != nil {
		t.Fatal(err)
	}
	tasks, err := db.DueTasks(time.Now().UnixMilli(), 10)
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := db.ClaimTask(tasks[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("first claim should succeed")
	}

	claimed, err = db.ClaimTask(tasks[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Error("second claim of a RUNNING task should fail")
	}
}

func TestScheduleRetryAndDue(t *testing.T) {
	db := testDB(t)

	if _, err := db.InsertWithTask("A", "hello", 100, 3); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UnixMilli()
	tasks, _ := db.DueTasks(now, 10)
	if _, err := db.ClaimTask(tasks[0].ID); err != nil {
		t.Fatal(err)
	}

	future := now + int64(time.Hour/time.Millisecond)
	if err := db.ScheduleRetry(tasks[0].ID, future, "connection refused"); err != nil {
		t.Fatal(err)
	}

	due, err := db.DueTasks(now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("got %d due tasks, want 0 before the backoff expires", len(due))
	}

	due, err = db.DueTasks(future, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due tasks at wake-up time, want 1", len(due))
	}
	if due[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 after one claim", due[0].Attempts)
	}
	if due[0].LastError != "connection refused" {
		t.Errorf("last_error = %q", due[0].LastError)
	}
}

func TestResetRunningTasks(t *testing.T) {
	db := testDB(t)

	if _, err := db.InsertWithTask("A", "hello", 100, 3); err != nil {
		t.Fatal(err)
	}
	tasks, _ := db.DueTasks(time.Now().UnixMilli(), 10)
	if _, err := db.ClaimTask(tasks[0].ID); err != nil {
		t.Fatal(err)
	}

	n, err := db.ResetRunningTasks()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("recovered %d tasks, want 1", n)
	}

	due, err := db.DueTasks(time.Now().UnixMilli(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Errorf("got %d due tasks after recovery, want 1", len(due))
	}
}

func TestRequeueFailedRecord(t *testing.T) {
	db := testDB(t)

	id, err := db.Insert("A", "hello", 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateStatus(id, status.Failed, nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := db.Requeue(id, 3); err != nil {
		t.Fatal(err)
	}

	m, _ := db.Get(id)
	if m.Status != status.Pending {
		t.Errorf("status = %s, want PENDING after requeue", m.Status)
	}
	tasks, _ := db.DueTasks(time.Now().UnixMilli(), 10)
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1 fresh task", len(tasks))
	}
	if tasks[0].Attempts != 0 {
		t.Errorf("attempts = %d, want restarted budget", tasks[0].Attempts)
	}
}

func TestRequeueRejectsNonFailed(t *testing.T) {
	db := testDB(t)

	id, err := db.Insert("A", "hello", 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Requeue(id, 3); err == nil {
		t.Error("expected error requeueing a PENDING record")
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	db.SetBus(b)

	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	id, err := db.Insert("A", "hello", 100)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "message.inserted" {
			t.Errorf("kind = %q, want message.inserted", evt.Kind)
		}
		if evt.Payload.(int64) != id {
			t.Errorf("payload = %v, want %d", evt.Payload, id)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for insert event")
	}

	if err := db.UpdateStatus(id, status.Failed, nil, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		if evt.Kind != "message.updated" {
			t.Errorf("kind = %q, want message.updated", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for update event")
	}
}

func TestSettings(t *testing.T) {
	db := testDB(t)

	v, err := db.GetSetting(SettingClassifierURL)
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("missing key = %q, want empty", v)
	}

	if err := db.SetSetting(SettingClassifierURL, "http://a"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSetting(SettingClassifierURL, "http://b"); err != nil {
		t.Fatal(err)
	}

	v, err = db.GetSetting(SettingClassifierURL)
	if err != nil {
		t.Fatal(err)
	}
	if v != "http://b" {
		t.Errorf("value = %q, want http://b", v)
	}
}
