package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-frontdesk/internal/domain"
	"github.com/wolfman30/clinic-frontdesk/internal/ids"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/internal/records/recordstest"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

var testNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

func newTestService(tbl records.Table, opts ...Option) *Service {
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithLogger(logging.Discard()),
	}, opts...)
	return NewService(tbl, opts...)
}

func TestVerifyCreatesUnknownPatient(t *testing.T) {
	tbl := records.NewMemoryTable(records.PatientsSchema)
	svc := newTestService(tbl)
	sess := session.New("conv-1", testNow)

	res := svc.Verify(context.Background(), sess, Request{Name: "Jane Doe", DOB: "16 Sep 2002"})
	require.Equal(t, StatusCreated, res.Status, res.Message)
	assert.True(t, res.OK())
	assert.Regexp(t, `^PAT-[0-9A-F]{8}$`, res.PatientID)
	assert.Contains(t, res.Message, res.PatientID)
	assert.True(t, sess.IsVerified())
	assert.Equal(t, res.PatientID, sess.PatientID)

	rows := tbl.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "2002-09-16", rows[0].Get(records.ColDOB))
	assert.Equal(t, "Jane Doe", rows[0].Get(records.ColName))
}

func TestVerifyMatchesExistingPatient(t *testing.T) {
	tbl := records.NewMemoryTable(records.PatientsSchema)
	_, err := tbl.AppendRow(context.Background(), map[string]string{
		records.ColPatientID: "PAT-1001",
		records.ColName:      "Jane Doe",
		records.ColDOB:       "16/09/2002",
	})
	require.NoError(t, err)

	svc := newTestService(tbl)
	sess := session.New("conv-1", testNow)
	res := svc.Verify(context.Background(), sess, Request{Name: "  jane   DOE", DOB: "2002-09-16"})

	require.Equal(t, StatusVerified, res.Status)
	assert.Equal(t, "PAT-1001", res.PatientID)
	assert.Equal(t, "Welcome back Jane Doe! You're successfully verified.", res.Message)
	assert.Equal(t, "PAT-1001", sess.PatientID)
	assert.Equal(t, 1, tbl.Len())
}

func TestVerifyDOBMismatchLeavesSessionAlone(t *testing.T) {
	tbl := records.NewMemoryTable(records.PatientsSchema)
	_, err := tbl.AppendRow(context.Background(), map[string]string{
		records.ColPatientID: "PAT-1001",
		records.ColName:      "Jane Doe",
		records.ColDOB:       "2002-09-16",
	})
	require.NoError(t, err)

	svc := newTestService(tbl)
	sess := session.New("conv-1", testNow)
	res := svc.Verify(context.Background(), sess, Request{Name: "Jane Doe", DOB: "17 Sep 2002"})

	assert.Equal(t, StatusNotVerified, res.Status)
	assert.Equal(t, domain.KindNotVerified, res.Kind)
	assert.False(t, sess.IsVerified())
	assert.Empty(t, sess.PatientID)
	assert.Equal(t, 1, tbl.Len())
}

func TestVerifyUnreadableDOBSkipsStore(t *testing.T) {
	counting := recordstest.NewCounting(nil, records.PatientsSchema)
	svc := newTestService(counting)
	sess := session.New("conv-1", testNow)

	res := svc.Verify(context.Background(), sess, Request{Name: "Jane Doe", DOB: "a while ago"})
	assert.Equal(t, StatusInvalidInput, res.Status)
	assert.Equal(t, domain.KindDefaultedInput, res.Kind)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "dob", res.Warnings[0].Field)
	assert.Equal(t, int64(0), counting.Calls())
	assert.False(t, sess.IsVerified())
}

func TestVerifyRejectsBlankNameAndFutureDOB(t *testing.T) {
	counting := recordstest.NewCounting(nil, records.PatientsSchema)
	svc := newTestService(counting)

	res := svc.Verify(context.Background(), session.New("c", testNow), Request{Name: "  ", DOB: "2002-09-16"})
	assert.Equal(t, StatusInvalidInput, res.Status)

	res = svc.Verify(context.Background(), session.New("c", testNow), Request{Name: "Jane", DOB: "2030-01-01"})
	assert.Equal(t, StatusInvalidInput, res.Status)
	assert.Equal(t, int64(0), counting.Calls())
}

func TestVerifyStoreFailureFailsClosed(t *testing.T) {
	svc := newTestService(recordstest.Failing{Err: errors.New("sheet unavailable")})
	sess := session.New("conv-1", testNow)

	res := svc.Verify(context.Background(), sess, Request{Name: "Jane Doe", DOB: "2002-09-16"})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, domain.KindStoreError, res.Kind)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "sheet unavailable")
	assert.False(t, sess.IsVerified())
}

func TestVerifyRetriesOnIDCollision(t *testing.T) {
	tbl := records.NewMemoryTable(records.PatientsSchema)
	_, err := tbl.AppendRow(context.Background(), map[string]string{
		records.ColPatientID: "PAT-AAAA0001",
		records.ColName:      "Someone Else",
		records.ColDOB:       "1990-01-01",
	})
	require.NoError(t, err)

	seq := []string{"AAAA0001", "BBBB0002"}
	gen := ids.Generator{Entropy: func() string {
		next := seq[0]
		seq = seq[1:]
		return next
	}}
	svc := newTestService(tbl, WithIDs(gen))
	sess := session.New("conv-1", testNow)

	res := svc.Verify(context.Background(), sess, Request{Name: "Jane Doe", DOB: "2002-09-16"})
	require.Equal(t, StatusCreated, res.Status)
	assert.Equal(t, "PAT-BBBB0002", res.PatientID)
}

func TestVerifyAlreadyVerifiedSession(t *testing.T) {
	counting := recordstest.NewCounting(nil, records.PatientsSchema)
	svc := newTestService(counting)
	sess := session.New("conv-1", testNow)
	sess.MarkVerified("PAT-1", "Jane Doe")

	res := svc.Verify(context.Background(), sess, Request{Name: "Jane Doe", DOB: "2002-09-16"})
	assert.Equal(t, StatusVerified, res.Status)
	assert.Equal(t, "PAT-1", res.PatientID)
	assert.Equal(t, int64(0), counting.Calls())
}

func TestConcurrentFirstContactCreatesOnePatient(t *testing.T) {
	tbl := records.NewMemoryTable(records.PatientsSchema)
	svc := newTestService(tbl)

	const n = 10
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Verify(context.Background(), session.New("conv", testNow), Request{Name: "Jane Doe", DOB: "2002-09-16"})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, tbl.Len())
	created := 0
	for _, res := range results {
		require.True(t, res.OK(), res.Message)
		assert.Equal(t, results[0].PatientID, res.PatientID)
		if res.Status == StatusCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
}
