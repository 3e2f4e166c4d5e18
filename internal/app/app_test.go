package app_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reqguard/reqguard/guardlib"
	"github.com/reqguard/reqguard/internal/app"
	"github.com/reqguard/reqguard/internal/testlib"
	"github.com/reqguard/reqguard/logger"
	"github.com/reqguard/reqguard/ratestore"
	"github.com/reqguard/reqguard/tokenstore"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

type AppTestSuite struct {
	suite.Suite

	events     *testlib.EventRecorder
	rateStore  *ratestore.Memory
	tokenStore *tokenstore.Memory
	pipeline   *guardlib.Pipeline
	server     *httptest.Server
	client     *http.Client
	token      string
}

func (suite *AppTestSuite) SetupTest() {
	suite.events = &testlib.EventRecorder{}
	suite.rateStore = ratestore.NewMemory(ratestore.MemoryOpts{})
	suite.tokenStore = tokenstore.NewMemory(nil, 0)

	pipeline, err := guardlib.NewPipeline(guardlib.PipelineOpts{
		Secret:            []byte("0123456789abcdef0123456789abcdef"),
		RateStore:         suite.rateStore,
		TokenStore:        suite.tokenStore,
		EventStream:       suite.events,
		Logger:            logger.NewNoopLogger(),
		NotFoundHandler:   app.NotFoundHandler(),
		DisableSpeedLimit: true,
	})
	suite.Require().NoError(err)

	suite.pipeline = pipeline

	application := app.New(pipeline, pipeline.TokenHandler(), bcrypt.MinCost)
	suite.server = httptest.NewServer(pipeline.Middleware(application.Router()))

	jar, err := cookiejar.New(nil)
	suite.Require().NoError(err)

	suite.client = &http.Client{Jar: jar}
	suite.token = ""
}

func (suite *AppTestSuite) TearDownTest() {
	suite.server.Close()
	suite.pipeline.Shutdown()
	suite.rateStore.Stop()
	suite.tokenStore.Stop()
}

func (suite *AppTestSuite) fetchToken() {
	resp, err := suite.client.Get(suite.server.URL + "/csrf-token")
	suite.Require().NoError(err)

	defer resp.Body.Close()

	payload := map[string]string{}

	suite.Require().Equal(http.StatusOK, resp.StatusCode)
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&payload))

	suite.token = payload["csrfToken"]
	suite.Require().NotEmpty(suite.token)
}

func (suite *AppTestSuite) send(method, path, body string) (int, map[string]string) {
	req, err := http.NewRequest(method, suite.server.URL+path, strings.NewReader(body))
	suite.Require().NoError(err)

	req.Header.Set("Content-Type", "application/json")

	if suite.token != "" {
		req.Header.Set(guardlib.DefaultCSRFHeader, suite.token)
	}

	resp, err := suite.client.Do(req)
	suite.Require().NoError(err)

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	suite.Require().NoError(err)

	payload := map[string]string{}

	if len(data) > 0 {
		suite.NoError(json.Unmarshal(data, &payload), string(data))
	}

	return resp.StatusCode, payload
}

func (suite *AppTestSuite) TestAccountFlow() {
	suite.fetchToken()

	status, _ := suite.send(http.MethodPost, "/auth/signup",
		`{"email": "Ann@example.com", "password": "correct horse", "name": "<script>alert(1)</script>Ann"}`)
	suite.Equal(http.StatusCreated, status)

	status, _ = suite.send(http.MethodPost, "/auth/signin",
		`{"email": "ann@example.com", "password": "wrong password"}`)
	suite.Equal(http.StatusUnauthorized, status)

	status, payload := suite.send(http.MethodPost, "/auth/signin",
		`{"email": "ann@example.com", "password": "correct horse"}`)
	suite.Equal(http.StatusOK, status)
	suite.Equal("ann@example.com", payload["email"])

	status, payload = suite.send(http.MethodGet, "/api/profile", "")
	suite.Equal(http.StatusOK, status)
	suite.Equal("Ann", payload["name"])

	status, payload = suite.send(http.MethodPut, "/api/profile",
		`{"bio": "<b onclick=\"steal()\">hi</b> <a href=\"javascript:x\">me</a>"}`)
	suite.Equal(http.StatusOK, status)
	suite.Equal("<b>hi</b> me", payload["bio"])
	suite.Equal("Ann", payload["name"])

	status, _ = suite.send(http.MethodPost, "/auth/signout", "")
	suite.Equal(http.StatusNoContent, status)

	status, _ = suite.send(http.MethodGet, "/api/profile", "")
	suite.Equal(http.StatusUnauthorized, status)

	auth := suite.events.OfCategory(guardlib.CategoryAuth)
	suite.Len(auth, 4)

	for _, evt := range suite.events.OfCategory(guardlib.CategorySanitizedField) {
		suite.NotEqual("password", evt.(guardlib.EventSanitizedField).Field)
	}
}

func (suite *AppTestSuite) TestDuplicateSignup() {
	suite.fetchToken()

	body := `{"email": "bob@example.com", "password": "12345678"}`

	status, _ := suite.send(http.MethodPost, "/auth/signup", body)
	suite.Equal(http.StatusCreated, status)

	status, _ = suite.send(http.MethodPost, "/auth/signup", body)
	suite.Equal(http.StatusConflict, status)
}

func (suite *AppTestSuite) TestWeakPassword() {
	suite.fetchToken()

	status, _ := suite.send(http.MethodPost, "/auth/signup", `{"email": "bob@example.com", "password": "1"}`)
	suite.Equal(http.StatusUnprocessableEntity, status)
}

func (suite *AppTestSuite) TestForgedRequest() {
	status, payload := suite.send(http.MethodPost, "/auth/signup",
		`{"email": "eve@example.com", "password": "12345678"}`)

	suite.Equal(http.StatusForbidden, status)
	suite.Equal("invalid csrf token", payload["error"])
}

func (suite *AppTestSuite) TestThreatLooksLikeUnknownRoute() {
	statusThreat, threat := suite.send(http.MethodGet, "/.git/config", "")
	statusUnknown, unknown := suite.send(http.MethodGet, "/no/such/page", "")

	suite.Equal(http.StatusNotFound, statusThreat)
	suite.Equal(statusUnknown, statusThreat)
	suite.Equal(unknown, threat)
	suite.Len(suite.events.OfCategory(guardlib.CategoryThreat), 1)
}

func (suite *AppTestSuite) TestHealthz() {
	status, payload := suite.send(http.MethodGet, "/healthz", "")

	suite.Equal(http.StatusOK, status)
	suite.Equal("ok", payload["status"])
}

func (suite *AppTestSuite) TestMethodNotAllowed() {
	suite.fetchToken()

	status, _ := suite.send(http.MethodDelete, "/api/profile", "")
	suite.Equal(http.StatusMethodNotAllowed, status)
}

func TestApp(t *testing.T) {
	t.Parallel()
	suite.Run(t, &AppTestSuite{})
}
