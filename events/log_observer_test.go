package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/reqguard/reqguard/guardlib"
	"github.com/reqguard/reqguard/logger"
	"github.com/stretchr/testify/suite"
	"golang.org/x/time/rate"
)

type LogSinkTestSuite struct {
	suite.Suite

	dir  string
	sink *LogSink
	info *guardlib.RequestInfo
}

func (suite *LogSinkTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	suite.info = requestInfo("/api/profile")

	sink, err := NewFileLogSink(suite.dir, logger.NewNoopLogger())
	suite.Require().NoError(err)

	suite.sink = sink
}

func (suite *LogSinkTestSuite) TearDownTest() {
	suite.NoError(suite.sink.Close())
}

func (suite *LogSinkTestSuite) readLines(category guardlib.Category) []map[string]interface{} {
	file, err := os.Open(filepath.Join(suite.dir, string(category)+".log"))
	suite.Require().NoError(err)

	defer file.Close()

	rv := []map[string]interface{}{}
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := map[string]interface{}{}
		suite.NoError(json.Unmarshal(scanner.Bytes(), &line))
		rv = append(rv, line)
	}

	return rv
}

func (suite *LogSinkTestSuite) TestFilesPerCategory() {
	for _, category := range AllCategories {
		suite.FileExists(filepath.Join(suite.dir, string(category)+".log"))
	}
}

func (suite *LogSinkTestSuite) TestRateLimited() {
	observer := suite.sink.Factory()()
	observer.EventRateLimited(guardlib.NewEventRateLimited(suite.info, guardlib.ClassAuth, 5, time.Minute))

	lines := suite.readLines(guardlib.CategoryRateLimit)
	suite.Require().Len(lines, 1)
	suite.Equal("auth", lines[0]["class"])
	suite.EqualValues(5, lines[0]["max"])
	suite.Equal(suite.info.ID, lines[0]["request_id"])
	suite.Equal("/api/profile", lines[0]["route"])
	suite.Equal(guardlib.OutcomeRejected, lines[0]["outcome"])

	suite.Empty(suite.readLines(guardlib.CategoryThreat))
}

func (suite *LogSinkTestSuite) TestSensitiveFieldHasNoValues() {
	observer := suite.sink.Factory()()
	observer.EventSanitizedField(guardlib.NewEventSanitizedSensitiveField(suite.info, "password"))
	observer.EventSanitizedField(guardlib.NewEventSanitizedField(suite.info, "name", "<b x=1>", "<b>"))

	lines := suite.readLines(guardlib.CategorySanitizedField)
	suite.Require().Len(lines, 2)

	suite.Equal("password", lines[0]["field"])
	suite.Equal(true, lines[0]["redacted"])
	suite.NotContains(lines[0], "before")
	suite.NotContains(lines[0], "after")

	suite.Equal("<b x=1>", lines[1]["before"])
	suite.Equal("<b>", lines[1]["after"])
}

func (suite *LogSinkTestSuite) TestRequestFinish() {
	observer := suite.sink.Factory()()
	observer.EventRequestFinish(guardlib.NewEventRequestFinish(suite.info, http.StatusCreated, time.Second))

	lines := suite.readLines(guardlib.CategoryRequest)
	suite.Require().Len(lines, 1)
	suite.EqualValues(http.StatusCreated, lines[0]["status"])
}

func TestLogSink(t *testing.T) {
	t.Parallel()
	suite.Run(t, &LogSinkTestSuite{})
}

type failingWriter struct{}

func (f failingWriter) Write(_ []byte) (int, error) {
	return 0, errors.New("disk is full")
}

func TestLogSinkSwallowsErrors(t *testing.T) {
	t.Parallel()

	sink := newLogSink()
	sink.attach(guardlib.CategoryThreat, "broken", failingWriter{},
		&rate.Sometimes{Interval: time.Minute}, logger.NewNoopLogger())

	observer := sink.Factory()()
	observer.EventThreat(guardlib.NewEventThreat(requestInfo("/.git/config"), ".git/"))
	observer.EventThreat(guardlib.NewEventThreat(requestInfo("/.git/config"), ".git/"))

	if sink.Failures() != 2 {
		t.Fatalf("expected 2 failures, got %d", sink.Failures())
	}
}

func TestConsoleLogSink(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	sink := NewConsoleLogSink(buf, logger.NewNoopLogger())

	sink.Factory()().EventAuth(guardlib.NewEventAuth(requestInfo("/auth/signin"), "signin", false, "bad password"))

	if !bytes.Contains(buf.Bytes(), []byte("signin: bad password")) {
		t.Fatalf("unexpected console output %q", buf.String())
	}
}
