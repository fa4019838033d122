package contactor

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestScheduler(t *testing.T) {
	suite.Run(t, new(schedulerTestSuite))
}

type schedulerTestSuite struct {
	suite.Suite

	f *fixture
}

func (suite *schedulerTestSuite) SetupTest() {
	f, err := newFixture(threeAddresses())
	require.NoError(suite.T(), err)

	suite.f = f
}

func (suite *schedulerTestSuite) sweep() SweepResult {
	return suite.f.app.Scheduler().TriggerSweepNow(context.Background())
}

func (suite *schedulerTestSuite) job(id string) Job {
	job, err := suite.f.app.Jobs().Get(id)
	require.NoError(suite.T(), err)

	return job
}

func (suite *schedulerTestSuite) TestAllDelivered() {
	suite.f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 3, created.TotalCount)

	result := suite.sweep()
	assert.Equal(suite.T(), []string{created.Id}, result.Executed)

	job := suite.job(created.Id)
	assert.Equal(suite.T(), JobCompleted, job.Status)
	assert.Equal(suite.T(), 3, job.SentCount)
	assert.Equal(suite.T(), 0, job.FailedCount)
	assert.Empty(suite.T(), job.Errors)
	assert.NotNil(suite.T(), job.CompletedAt)

	suite.f.transport.AssertNumberOfCalls(suite.T(), "Send", 3)
	suite.f.transport.AssertNotCalled(suite.T(), "Send", mock.Anything, sentTo("ivan@example.com"))

	saved, ok := suite.f.jobRepo.Saved(created.Id)
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), JobCompleted, saved.Status)
}

func (suite *schedulerTestSuite) TestPlaceholdersAreFilledPerReceiver() {
	suite.f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	_, err := suite.f.createJob()
	require.NoError(suite.T(), err)
	suite.sweep()

	suite.f.transport.AssertCalled(suite.T(), "Send", mock.Anything, mock.MatchedBy(func(msg *Message) bool {
		return msg.To == "carl@example.com" &&
			msg.Subject == "Hi Carl" &&
			msg.Text == "Hello Carl, this is Ann Sender." &&
			msg.Config.Host == "smtp.example.com"
	}))
}

func (suite *schedulerTestSuite) TestPartialFailureCompletes() {
	suite.f.transport.On("Send", mock.Anything, sentTo("bea@work.example.com")).Return(StatusError(http.StatusBadRequest, errors.New("no such mailbox")))
	suite.f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)

	suite.sweep()

	job := suite.job(created.Id)
	assert.Equal(suite.T(), JobCompleted, job.Status)
	assert.Equal(suite.T(), 2, job.SentCount)
	assert.Equal(suite.T(), 1, job.FailedCount)
	require.Len(suite.T(), job.Errors, 1)
	assert.Equal(suite.T(), "bea@work.example.com", job.Errors[0].Email)
	assert.Equal(suite.T(), "r1", job.Errors[0].ReceiverId)
	assert.Contains(suite.T(), job.Errors[0].Message, "no such mailbox")
}

func (suite *schedulerTestSuite) TestTotalFailureFailsJob() {
	suite.f.transport.On("Send", mock.Anything, mock.Anything).Return(NewTerminalError(errors.New("relay denied")))

	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)

	suite.sweep()

	job := suite.job(created.Id)
	assert.Equal(suite.T(), JobFailed, job.Status)
	assert.Equal(suite.T(), 0, job.SentCount)
	assert.Equal(suite.T(), 3, job.FailedCount)
	require.Len(suite.T(), job.Errors, 4)
	assert.Equal(suite.T(), "All 3 emails failed to send", job.Errors[3].Message)

	// Failures outnumber successes, so every pause is doubled.
	assert.Equal(suite.T(), []time.Duration{2 * time.Second, 2 * time.Second}, suite.f.sleeper.Delays())
}

func (suite *schedulerTestSuite) TestRepeatedAddressIsSentOnce() {
	suite.f.receiverLists.lists["list"] = ReceiverList{Id: "list", Receivers: []Receiver{
		{Id: "r1", FullName: "Bea Buyer", Emails: []string{"bea@example.com", "bea@example.com"}, IsValid: true, Timezone: "UTC"},
		{Id: "r1", FullName: "Bea Buyer", Emails: []string{"bea@example.com"}, IsValid: true, Timezone: "UTC"},
		{Id: "r2", FullName: "Carl Client", Emails: []string{"carl@example.com"}, IsValid: true, Timezone: "UTC"},
	}}
	suite.f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, created.TotalCount)

	suite.sweep()

	job := suite.job(created.Id)
	assert.Equal(suite.T(), JobCompleted, job.Status)
	assert.Equal(suite.T(), 2, job.SentCount)
	assert.Equal(suite.T(), 2, job.TotalCount)
	assert.True(suite.T(), job.Done())
	suite.f.transport.AssertNumberOfCalls(suite.T(), "Send", 2)
}

func (suite *schedulerTestSuite) TestFinishRefusesUnrecordedEmails() {
	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)

	_, err = suite.f.app.Jobs().Claim(created.Id)
	require.NoError(suite.T(), err)
	_, err = suite.f.app.Jobs().RecordAttempt(created.Id, "r1", "bea@example.com", true)
	require.NoError(suite.T(), err)

	exec := suite.f.app.Scheduler().exec
	assert.Error(suite.T(), exec.finish(exec.logger, created.Id))
	assert.Equal(suite.T(), JobSending, suite.job(created.Id).Status)
}

func (suite *schedulerTestSuite) TestMissingTemplateFailsWithoutSending() {
	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)

	require.NoError(suite.T(), suite.f.templates.Delete(&Template{Id: "tpl"}))

	suite.sweep()

	job := suite.job(created.Id)
	assert.Equal(suite.T(), JobFailed, job.Status)
	require.Len(suite.T(), job.Errors, 1)
	assert.Contains(suite.T(), job.Errors[0].Message, "template")
	suite.f.transport.AssertNotCalled(suite.T(), "Send", mock.Anything, mock.Anything)
}

func (suite *schedulerTestSuite) TestEmptiedListFailsJob() {
	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)

	suite.f.receiverLists.lists["list"] = ReceiverList{Id: "list"}

	suite.sweep()

	job := suite.job(created.Id)
	assert.Equal(suite.T(), JobFailed, job.Status)
	assert.Contains(suite.T(), job.Errors[0].Message, NoValidReceiversErr.Error())
}

func (suite *schedulerTestSuite) TestFutureJobIsLeftAlone() {
	job, err := suite.f.app.CreateJob(context.Background(), JobRequest{
		ProfileId:      "profile",
		TemplateId:     "tpl",
		ReceiverListId: "list",
		ScheduledTime:  fixtureStart.Add(time.Hour),
	})
	require.NoError(suite.T(), err)

	result := suite.sweep()

	assert.Empty(suite.T(), result.Executed)
	assert.Equal(suite.T(), JobScheduled, suite.job(job.Id).Status)
	suite.f.transport.AssertNotCalled(suite.T(), "Send", mock.Anything, mock.Anything)
}

func (suite *schedulerTestSuite) TestFinishedJobIsNotSentTwice() {
	suite.f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	_, err := suite.f.createJob()
	require.NoError(suite.T(), err)

	suite.sweep()
	second := suite.sweep()

	assert.Empty(suite.T(), second.Executed)
	suite.f.transport.AssertNumberOfCalls(suite.T(), "Send", 3)
}

func (suite *schedulerTestSuite) TestOverlappingSweepIsSkipped() {
	started := make(chan struct{}, 3)
	release := make(chan struct{})

	suite.f.transport.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		started <- struct{}{}
		<-release
	}).Return(nil)

	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)

	done := make(chan SweepResult)
	go func() {
		done <- suite.sweep()
	}()

	<-started

	status := suite.f.app.Scheduler().Status()
	assert.True(suite.T(), status.Sweeping)
	assert.Equal(suite.T(), []string{created.Id}, status.Executing)

	assert.True(suite.T(), suite.sweep().Skipped)

	close(release)
	first := <-done

	assert.Equal(suite.T(), []string{created.Id}, first.Executed)
	assert.Equal(suite.T(), JobCompleted, suite.job(created.Id).Status)
	suite.f.transport.AssertNumberOfCalls(suite.T(), "Send", 3)
	assert.Empty(suite.T(), suite.f.app.Scheduler().Status().Executing)
}

func (suite *schedulerTestSuite) TestExecutingJobIsNotClaimedTwice() {
	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)

	scheduler := suite.f.app.Scheduler()
	require.True(suite.T(), scheduler.claim(created.Id))
	assert.False(suite.T(), scheduler.claim(created.Id))

	scheduler.release(created.Id)
	assert.True(suite.T(), scheduler.claim(created.Id))
}

func (suite *schedulerTestSuite) TestReceiversWaitForTheirLocalSendTime() {
	suite.f.receiverLists.lists["list"] = ReceiverList{Id: "list", Receivers: []Receiver{
		{Id: "london", FullName: "Lena", Emails: []string{"lena@example.com"}, IsValid: true, Timezone: "UTC"},
		{Id: "tokyo", FullName: "Taro", Emails: []string{"taro@example.com"}, IsValid: true, Timezone: "Asia/Tokyo"},
	}}
	suite.f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	created, err := suite.f.app.CreateJob(context.Background(), JobRequest{
		ProfileId:      "profile",
		TemplateId:     "tpl",
		ReceiverListId: "list",
		SendTime:       "09:00",
	})
	require.NoError(suite.T(), err)

	utcNine := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	tokyoNine := time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)
	assert.True(suite.T(), created.ScheduledTime.Equal(utcNine))

	assert.Empty(suite.T(), suite.sweep().Executed)

	suite.f.clock.Set(utcNine)
	suite.sweep()

	job := suite.job(created.Id)
	assert.Equal(suite.T(), JobSending, job.Status)
	assert.Equal(suite.T(), 1, job.SentCount)
	require.NotNil(suite.T(), job.ResumeAt)
	assert.True(suite.T(), job.ResumeAt.Equal(tokyoNine))
	require.Len(suite.T(), job.Warnings, 1)
	assert.Contains(suite.T(), job.Warnings[0].Message, "waiting for their local send time")
	suite.f.transport.AssertNotCalled(suite.T(), "Send", mock.Anything, sentTo("taro@example.com"))

	suite.f.clock.Set(tokyoNine.Add(-time.Minute))
	assert.Empty(suite.T(), suite.sweep().Executed)

	suite.f.clock.Set(tokyoNine)
	suite.sweep()

	job = suite.job(created.Id)
	assert.Equal(suite.T(), JobCompleted, job.Status)
	assert.Equal(suite.T(), 2, job.SentCount)
	assert.Nil(suite.T(), job.ResumeAt)
	suite.f.transport.AssertNumberOfCalls(suite.T(), "Send", 2)
}

func (suite *schedulerTestSuite) TestPanicIsRecordedAsFailure() {
	f, err := newFixture(threeAddresses(), SetRenderer(panickingRenderer{}))
	require.NoError(suite.T(), err)

	created, err := f.createJob()
	require.NoError(suite.T(), err)

	f.app.Scheduler().TriggerSweepNow(context.Background())

	job, err := f.app.Jobs().Get(created.Id)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), JobFailed, job.Status)
	require.NotEmpty(suite.T(), job.Errors)
	assert.Contains(suite.T(), job.Errors[len(job.Errors)-1].Message, "unexpected error")
	assert.Empty(suite.T(), f.app.Scheduler().Status().Executing)
}

func (suite *schedulerTestSuite) TestCancelledSweepParksTheJob() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suite.f.transport.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		cancel()
		<-args.Get(0).(context.Context).Done()
	}).Return(context.Canceled)

	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)

	suite.f.app.Scheduler().TriggerSweepNow(ctx)

	job := suite.job(created.Id)
	assert.Equal(suite.T(), JobSending, job.Status)
	require.NotNil(suite.T(), job.ResumeAt)
	assert.Equal(suite.T(), 0, job.SentCount+job.FailedCount)
	assert.Empty(suite.T(), job.Errors)
}

func (suite *schedulerTestSuite) TestStatusCountsSweeps() {
	suite.sweep()
	suite.sweep()

	status := suite.f.app.Scheduler().Status()
	assert.False(suite.T(), status.Running)
	assert.Equal(suite.T(), int64(2), status.Sweeps)
	assert.Equal(suite.T(), DefaultPollInterval, status.Interval)
	require.NotNil(suite.T(), status.LastSweepAt)
	assert.Equal(suite.T(), fixtureStart, *status.LastSweepAt)
}

func (suite *schedulerTestSuite) TestStartAndStop() {
	suite.f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	created, err := suite.f.createJob()
	require.NoError(suite.T(), err)

	scheduler := suite.f.app.Scheduler()
	require.NoError(suite.T(), scheduler.Start(context.Background()))
	assert.Error(suite.T(), scheduler.Start(context.Background()))

	assert.Eventually(suite.T(), func() bool {
		job, _ := suite.f.app.Jobs().Get(created.Id)
		return job.Status == JobCompleted
	}, time.Second, 5*time.Millisecond)

	scheduler.Stop()
	assert.False(suite.T(), scheduler.Status().Running)
}

type panickingRenderer struct{}

func (panickingRenderer) Render(string) (string, string, error) {
	panic("renderer exploded")
}

func TestStaleJobIsResumed(t *testing.T) {
	startedAt := fixtureStart.Add(-time.Hour)
	stale := Job{
		Id:             "stale",
		ProfileId:      "profile",
		TemplateId:     "tpl",
		ReceiverListId: "list",
		Status:         JobSending,
		ScheduledTime:  startedAt,
		TotalCount:     3,
		SentCount:      1,
		Attempted:      map[string]bool{DeliveryKey("r1", "bea@example.com"): true},
		CreatedAt:      startedAt,
		StartedAt:      &startedAt,
	}

	f, err := newFixture(threeAddresses(), SetJobRepo(&jobRepository{initial: []Job{stale}}))
	require.NoError(t, err)

	f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	recovered, err := f.app.Scheduler().RecoverStale()
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	f.app.Scheduler().TriggerSweepNow(context.Background())

	job, err := f.app.Jobs().Get("stale")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 3, job.SentCount)
	require.Len(t, job.Warnings, 1)
	assert.True(t, strings.HasPrefix(job.Warnings[0].Message, "Interrupted while sending"))

	f.transport.AssertNumberOfCalls(t, "Send", 2)
	f.transport.AssertNotCalled(t, "Send", mock.Anything, sentTo("bea@example.com"))
}

func TestStaleJobFailsUnderFailPolicy(t *testing.T) {
	stale := Job{
		Id:             "stale",
		ProfileId:      "profile",
		TemplateId:     "tpl",
		ReceiverListId: "list",
		Status:         JobSending,
		TotalCount:     3,
		CreatedAt:      fixtureStart,
	}

	f, err := newFixture(threeAddresses(),
		SetJobRepo(&jobRepository{initial: []Job{stale}}),
		SetStalePolicy(StaleFail),
	)
	require.NoError(t, err)

	recovered, err := f.app.Scheduler().RecoverStale()
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	job, err := f.app.Jobs().Get("stale")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, job.Status)
}

func TestResumedJobFollowsListChanges(t *testing.T) {
	startedAt := fixtureStart.Add(-time.Hour)
	stale := Job{
		Id:             "stale",
		ProfileId:      "profile",
		TemplateId:     "tpl",
		ReceiverListId: "list",
		Status:         JobSending,
		ScheduledTime:  startedAt,
		TotalCount:     3,
		SentCount:      1,
		Attempted:      map[string]bool{DeliveryKey("r2", "carl@example.com"): true},
		CreatedAt:      startedAt,
		StartedAt:      &startedAt,
	}

	// Carl was already mailed, then dropped from the list; Dora joined.
	receivers := []Receiver{
		{Id: "r1", FullName: "Bea Buyer", Emails: []string{"bea@example.com"}, IsValid: true, Timezone: "UTC"},
		{Id: "r4", FullName: "Dora Dealer", Emails: []string{"dora@example.com", "dora@home.example.com"}, IsValid: true, Timezone: "UTC"},
	}

	f, err := newFixture(receivers, SetJobRepo(&jobRepository{initial: []Job{stale}}))
	require.NoError(t, err)

	f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	_, err = f.app.Scheduler().RecoverStale()
	require.NoError(t, err)

	f.app.Scheduler().TriggerSweepNow(context.Background())

	job, err := f.app.Jobs().Get("stale")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 4, job.TotalCount)
	assert.Equal(t, 4, job.SentCount)
	assert.True(t, job.Done())
	f.transport.AssertNumberOfCalls(t, "Send", 3)
}
