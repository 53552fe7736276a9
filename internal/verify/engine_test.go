package verify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"absensi/internal/ledger"
	"absensi/internal/qrcode"
	"absensi/internal/roster"
)

var testNow = time.Date(2025, time.March, 10, 7, 45, 0, 0, time.Local)

type fakeResolver struct {
	members map[string]roster.Membership
	errs    map[string]error
}

func (f *fakeResolver) Resolve(_ context.Context, studentID string) (roster.Membership, error) {
	if err, ok := f.errs[studentID]; ok {
		return roster.Membership{}, err
	}
	m, ok := f.members[studentID]
	if !ok {
		return roster.Membership{}, roster.ErrStudentNotFound
	}
	return m, nil
}

type fakeDescriptors struct {
	byClass map[string]qrcode.Descriptor
	revoked []string
}

func (f *fakeDescriptors) LookupByCode(_ context.Context, code string) (*qrcode.Descriptor, error) {
	for _, d := range f.byClass {
		if d.Code == code {
			copied := d
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeDescriptors) Revoke(_ context.Context, classKey string) error {
	delete(f.byClass, classKey)
	f.revoked = append(f.revoked, classKey)
	return nil
}

type fakeLedger struct {
	records map[string]ledger.Record
	// conflictOnce makes the next Insert lose as if a concurrent scan won,
	// planting winner as the surviving row.
	conflictOnce bool
	winner       *ledger.Record
}

func dateKey(classKey, studentID string, d, m, y int) string {
	return fmt.Sprintf("%s|%s|%d-%d-%d", classKey, studentID, d, m, y)
}

func (f *fakeLedger) FindPresent(_ context.Context, classKey, studentID string, day, month, year int) (*ledger.Record, error) {
	if rec, ok := f.records[dateKey(classKey, studentID, day, month, year)]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (f *fakeLedger) Insert(_ context.Context, rec ledger.Record) (bool, error) {
	key := dateKey(rec.ClassKey, rec.StudentID, rec.Day, rec.Month, rec.Year)
	if f.conflictOnce {
		f.conflictOnce = false
		f.records[key] = *f.winner
		return false, nil
	}
	if _, ok := f.records[key]; ok {
		return false, nil
	}
	f.records[key] = rec
	return true, nil
}

func newTestEngine(res *fakeResolver, desc *fakeDescriptors, led *fakeLedger) *Engine {
	e := NewEngine(res, desc, led)
	e.nowFunc = func() time.Time { return testNow }
	return e
}

func descriptorFor(classKey, classLabel, trackLabel, code string) qrcode.Descriptor {
	return qrcode.Descriptor{
		ID:         "qr-" + classKey,
		Code:       code,
		ClassKey:   classKey,
		ClassLabel: classLabel,
		TrackLabel: trackLabel,
		IssuedBy:   "guru-1",
		CreatedAt:  testNow.Add(-time.Hour),
	}
}

func fixtures() (*fakeResolver, *fakeDescriptors, *fakeLedger) {
	res := &fakeResolver{
		members: map[string]roster.Membership{
			"S1": {ClassKey: "k10ipa", ClassLabel: "10", TrackLabel: "IPA"},
			"S2": {ClassKey: "k11ips", ClassLabel: "11", TrackLabel: "IPS"},
		},
		errs: map[string]error{
			"orphan": roster.ErrClassNotFound,
		},
	}
	desc := &fakeDescriptors{
		byClass: map[string]qrcode.Descriptor{
			"k10ipa": descriptorFor("k10ipa", "10", "IPA", "ABCDEFGHIJKLMNOPQRST"),
			"k11ips": descriptorFor("k11ips", "11", "IPS", "aaaabbbbccccddddeeee"),
		},
	}
	led := &fakeLedger{records: map[string]ledger.Record{}}
	return res, desc, led
}

func TestVerifyAndRecordGates(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		studentID  string
		wantReason Reason
	}{
		{name: "missing code", code: "", studentID: "S1", wantReason: ReasonBadRequest},
		{name: "missing student", code: "ABCDEFGHIJKLMNOPQRST", studentID: "", wantReason: ReasonBadRequest},
		{name: "unknown student", code: "ABCDEFGHIJKLMNOPQRST", studentID: "ghost", wantReason: ReasonStudentNotFound},
		{name: "orphaned roster", code: "ABCDEFGHIJKLMNOPQRST", studentID: "orphan", wantReason: ReasonClassNotFound},
		{name: "unknown code", code: "nosuchcode1234567890", studentID: "S1", wantReason: ReasonInvalidCode},
		{name: "other class code", code: "aaaabbbbccccddddeeee", studentID: "S1", wantReason: ReasonClassMismatch},
		{name: "valid scan", code: "ABCDEFGHIJKLMNOPQRST", studentID: "S1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(fixtures())
			result, err := e.VerifyAndRecord(context.Background(), tt.code, tt.studentID)
			if err != nil {
				t.Fatalf("VerifyAndRecord() error = %v", err)
			}
			if tt.wantReason == "" {
				if !result.Accepted() {
					t.Fatalf("expected accepted, got rejection %+v", result.Rejection)
				}
				return
			}
			if result.Accepted() {
				t.Fatalf("expected rejection %s, got accepted", tt.wantReason)
			}
			if result.Rejection.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", result.Rejection.Reason, tt.wantReason)
			}
		})
	}
}

func TestVerifyAndRecordCommit(t *testing.T) {
	res, desc, led := fixtures()
	e := newTestEngine(res, desc, led)

	result, err := e.VerifyAndRecord(context.Background(), "ABCDEFGHIJKLMNOPQRST", "S1")
	if err != nil {
		t.Fatalf("VerifyAndRecord() error = %v", err)
	}
	if !result.Accepted() {
		t.Fatalf("expected accepted, got %+v", result.Rejection)
	}

	rec := result.Record
	if rec.ID == "" {
		t.Error("record ID not generated")
	}
	if rec.Status != ledger.StatusPresent {
		t.Errorf("status = %s, want %s", rec.Status, ledger.StatusPresent)
	}
	if rec.ClassLabel != "10" || rec.TrackLabel != "IPA" {
		t.Errorf("labels = %s/%s, want 10/IPA", rec.ClassLabel, rec.TrackLabel)
	}
	if rec.Day != testNow.Day() || rec.Month != int(testNow.Month()) || rec.Year != testNow.Year() {
		t.Errorf("date = %d-%d-%d, want today", rec.Day, rec.Month, rec.Year)
	}
	if rec.Hour != 7 || rec.Minute != 45 {
		t.Errorf("time = %d:%d, want 7:45", rec.Hour, rec.Minute)
	}
	if result.DisplayTime != "07:45" {
		t.Errorf("display time = %s, want 07:45", result.DisplayTime)
	}
	if len(led.records) != 1 {
		t.Errorf("ledger has %d records, want 1", len(led.records))
	}
}

func TestVerifyAndRecordDuplicateSameDay(t *testing.T) {
	res, desc, led := fixtures()
	e := newTestEngine(res, desc, led)
	ctx := context.Background()

	first, err := e.VerifyAndRecord(ctx, "ABCDEFGHIJKLMNOPQRST", "S1")
	if err != nil || !first.Accepted() {
		t.Fatalf("first scan: err=%v result=%+v", err, first.Rejection)
	}

	second, err := e.VerifyAndRecord(ctx, "ABCDEFGHIJKLMNOPQRST", "S1")
	if err != nil {
		t.Fatalf("second scan error = %v", err)
	}
	if second.Accepted() {
		t.Fatal("second scan should be rejected")
	}
	if second.Rejection.Reason != ReasonAlreadyMarked {
		t.Fatalf("reason = %s, want %s", second.Rejection.Reason, ReasonAlreadyMarked)
	}
	if second.Rejection.MarkedAt != "07:45" {
		t.Errorf("marked_at = %s, want the first scan's time", second.Rejection.MarkedAt)
	}
	if len(led.records) != 1 {
		t.Errorf("ledger has %d records, want 1", len(led.records))
	}
}

func TestVerifyAndRecordConcurrentLoser(t *testing.T) {
	res, desc, led := fixtures()
	winner := ledger.Record{
		ID: "winner", ClassKey: "k10ipa", StudentID: "S1",
		Status: ledger.StatusPresent, Hour: 7, Minute: 44,
		Day: testNow.Day(), Month: int(testNow.Month()), Year: testNow.Year(),
		ClassLabel: "10", TrackLabel: "IPA",
	}
	led.conflictOnce = true
	led.winner = &winner
	e := newTestEngine(res, desc, led)

	// FindPresent sees nothing, the insert loses: the store arbitrated a
	// concurrent double-submit.
	result, err := e.VerifyAndRecord(context.Background(), "ABCDEFGHIJKLMNOPQRST", "S1")
	if err != nil {
		t.Fatalf("VerifyAndRecord() error = %v", err)
	}
	if result.Accepted() {
		t.Fatal("losing scan should be rejected")
	}
	if result.Rejection.Reason != ReasonAlreadyMarked {
		t.Fatalf("reason = %s, want %s", result.Rejection.Reason, ReasonAlreadyMarked)
	}
	if result.Rejection.MarkedAt != "07:44" {
		t.Errorf("marked_at = %s, want the winner's time 07:44", result.Rejection.MarkedAt)
	}
}

func TestVerifyAndRecordExpired(t *testing.T) {
	res, desc, led := fixtures()
	d := desc.byClass["k10ipa"]
	exp := testNow.Add(-time.Minute)
	d.ExpiresAt = &exp
	desc.byClass["k10ipa"] = d
	e := newTestEngine(res, desc, led)

	result, err := e.VerifyAndRecord(context.Background(), d.Code, "S1")
	if err != nil {
		t.Fatalf("VerifyAndRecord() error = %v", err)
	}
	if result.Accepted() || result.Rejection.Reason != ReasonExpired {
		t.Fatalf("got %+v, want %s", result.Rejection, ReasonExpired)
	}
	if len(led.records) != 0 {
		t.Error("expired scan must not write a record")
	}
}

func TestVerifyAndRecordMismatchContext(t *testing.T) {
	res, desc, led := fixtures()
	e := newTestEngine(res, desc, led)

	// S1 (10/IPA) scans the 11/IPS code.
	result, err := e.VerifyAndRecord(context.Background(), "aaaabbbbccccddddeeee", "S1")
	if err != nil {
		t.Fatalf("VerifyAndRecord() error = %v", err)
	}
	rej := result.Rejection
	if rej == nil || rej.Reason != ReasonClassMismatch {
		t.Fatalf("got %+v, want %s", rej, ReasonClassMismatch)
	}
	if rej.CodeClass != "11" || rej.CodeTrack != "IPS" {
		t.Errorf("code labels = %s/%s, want 11/IPS", rej.CodeClass, rej.CodeTrack)
	}
	if rej.StudentClass != "10" || rej.StudentTrack != "IPA" {
		t.Errorf("student labels = %s/%s, want 10/IPA", rej.StudentClass, rej.StudentTrack)
	}
}

func TestVerifyAndRecordOneShot(t *testing.T) {
	res, desc, led := fixtures()
	d := desc.byClass["k10ipa"]
	d.OneShot = true
	desc.byClass["k10ipa"] = d
	e := newTestEngine(res, desc, led)
	ctx := context.Background()

	result, err := e.VerifyAndRecord(ctx, d.Code, "S1")
	if err != nil || !result.Accepted() {
		t.Fatalf("scan: err=%v result=%+v", err, result.Rejection)
	}
	if len(desc.revoked) != 1 || desc.revoked[0] != "k10ipa" {
		t.Fatalf("one-shot code not revoked: %v", desc.revoked)
	}

	// The code is gone for the next student.
	next, err := e.VerifyAndRecord(ctx, d.Code, "S2")
	if err != nil {
		t.Fatalf("next scan error = %v", err)
	}
	if next.Accepted() || next.Rejection.Reason != ReasonInvalidCode {
		t.Fatalf("got %+v, want %s", next.Rejection, ReasonInvalidCode)
	}
}

func TestVerifyAndRecordPersistentCodeReusable(t *testing.T) {
	res, desc, led := fixtures()
	res.members["S3"] = roster.Membership{ClassKey: "k10ipa", ClassLabel: "10", TrackLabel: "IPA"}
	e := newTestEngine(res, desc, led)
	ctx := context.Background()

	for _, sid := range []string{"S1", "S3"} {
		result, err := e.VerifyAndRecord(ctx, "ABCDEFGHIJKLMNOPQRST", sid)
		if err != nil || !result.Accepted() {
			t.Fatalf("scan by %s: err=%v result=%+v", sid, err, result.Rejection)
		}
	}
	if len(desc.revoked) != 0 {
		t.Errorf("persistent code revoked: %v", desc.revoked)
	}
	if len(led.records) != 2 {
		t.Errorf("ledger has %d records, want 2", len(led.records))
	}
}

func TestVerifyAndRecordRefreshInvalidatesOldCode(t *testing.T) {
	res, desc, led := fixtures()
	e := newTestEngine(res, desc, led)
	oldCode := desc.byClass["k10ipa"].Code

	// Teacher refreshes: the slot is overwritten wholesale.
	desc.byClass["k10ipa"] = descriptorFor("k10ipa", "10", "IPA", "zzzzyyyyxxxxwwwwvvvv")

	result, err := e.VerifyAndRecord(context.Background(), oldCode, "S1")
	if err != nil {
		t.Fatalf("VerifyAndRecord() error = %v", err)
	}
	if result.Accepted() || result.Rejection.Reason != ReasonInvalidCode {
		t.Fatalf("got %+v, want %s", result.Rejection, ReasonInvalidCode)
	}
}
