package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dayplan/internal/config"
	"dayplan/internal/metrics"
	"dayplan/internal/model"
	"dayplan/internal/store"
)

var fixedNow = time.Date(2024, 2, 20, 9, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *store.Store, *metrics.Metrics) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}
	st := store.New(store.Options{})
	m := metrics.New()
	s := NewServer(cfg, st, WithClock(func() time.Time { return fixedNow }), WithMetrics(m))

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, st, m
}

func postEvent(t *testing.T, base string, ev model.Event) *http.Response {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	resp, err := http.Post(base+"/api/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func meeting(id, date, start, end string) model.Event {
	return model.Event{ID: id, Title: id, Date: date, StartTime: start, EndTime: end, Category: model.CategoryMeeting}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestEventsCRUD(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)

	resp := postEvent(t, srv.URL, model.Event{Title: "Focus", Date: "2024-02-20", StartTime: "08:00", EndTime: "10:00", Category: model.CategoryDeepWork, Source: "spoofed"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Empty(t, created.Source)

	var list eventsResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/events?date=2024-02-20", &list))
	require.Len(t, list.Events, 1)
	assert.Equal(t, created.ID, list.Events[0].ID)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/events?date=20-02-2024", nil))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/events/"+created.ID, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
	assert.Equal(t, 0, st.Len())

	del, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNotFound, del.StatusCode)
}

func TestCreateEventErrors(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		ev   model.Event
		code int
	}{
		{"end before start", meeting("x", "2024-02-20", "10:00", "09:00"), http.StatusBadRequest},
		{"malformed time", meeting("y", "2024-02-20", "9am", "10:00"), http.StatusBadRequest},
		{"ok", meeting("dup", "2024-02-20", "09:00", "10:00"), http.StatusCreated},
		{"duplicate id", meeting("dup", "2024-02-20", "09:00", "10:00"), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, postEvent(t, srv.URL, tt.ev).StatusCode)
		})
	}

	resp, err := http.Post(srv.URL+"/api/events", "application/json", strings.NewReader(`{"title":`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLayoutEndpoint(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	for _, ev := range []model.Event{
		meeting("a", "2024-02-20", "09:00", "10:00"),
		meeting("b", "2024-02-20", "09:30", "10:30"),
		meeting("c", "2024-02-20", "10:00", "11:00"),
	} {
		_, err := st.Add(ev)
		require.NoError(t, err)
	}

	// No date means today per the injected clock.
	var lay layoutResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/layout", &lay))
	assert.Equal(t, "2024-02-20", lay.Date)
	assert.Equal(t, 2, lay.Columns)
	require.Len(t, lay.Events, 3)

	cols := map[string]int{}
	for _, re := range lay.Events {
		cols[re.ID] = re.Column
		assert.Equal(t, 50.0, re.Layout.Width)
	}
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 0}, cols)

	var empty layoutResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/layout?date=2024-02-21", &empty))
	assert.Equal(t, 0, empty.Columns)
	assert.NotNil(t, empty.Events)
	assert.Empty(t, empty.Events)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/layout?date=tomorrow", nil))
}

func TestLayoutEndpoint_ClusterMode(t *testing.T) {
	srv, st, _ := newTestServer(t, func(c *config.Config) { c.WidthMode = "cluster" })
	for _, ev := range []model.Event{
		meeting("a", "2024-02-20", "09:00", "10:00"),
		meeting("b", "2024-02-20", "09:30", "10:30"),
		meeting("solo", "2024-02-20", "14:00", "15:00"),
	} {
		_, err := st.Add(ev)
		require.NoError(t, err)
	}

	var lay layoutResponse
	getJSON(t, srv.URL+"/api/layout?date=2024-02-20", &lay)
	assert.Equal(t, "cluster", string(lay.WidthMode))
	for _, re := range lay.Events {
		if re.ID == "solo" {
			assert.Equal(t, 100.0, re.Layout.Width)
		}
	}
}

func TestMonthEndpoint(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	_, err := st.Add(meeting("x", "2024-02-29", "09:00", "10:00"))
	require.NoError(t, err)
	_, err = st.Add(meeting("y", "2024-02-29", "11:00", "12:00"))
	require.NoError(t, err)

	var month monthResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/month?date=2024-02-10", &month))
	assert.Equal(t, "2024-02", month.Month)
	assert.Equal(t, "2024-02-20", month.Today)
	require.Len(t, month.Weeks, 5)
	assert.Equal(t, "2024-01-28", month.Weeks[0].Days[0].Date)
	assert.Equal(t, "2024-03-02", month.Weeks[4].Days[6].Date)

	inMonth, todays := 0, 0
	for _, wk := range month.Weeks {
		require.Len(t, wk.Days, 7)
		for _, d := range wk.Days {
			if d.IsCurrentMonth {
				inMonth++
			}
			if d.IsToday {
				todays++
				assert.Equal(t, "2024-02-20", d.Date)
			}
			if d.Date == "2024-02-29" {
				assert.Equal(t, 2, d.EventCount)
			}
		}
	}
	assert.Equal(t, 29, inMonth)
	assert.Equal(t, 1, todays)

	var other monthResponse
	getJSON(t, srv.URL+"/api/month?date=2024-02-10&today=2024-03-01", &other)
	assert.True(t, other.Weeks[4].Days[5].IsToday)
}

func TestWeekAndNavigate(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	var week map[string][]string
	getJSON(t, srv.URL+"/api/week?date=2024-02-29", &week)
	require.Len(t, week["dates"], 7)
	assert.Equal(t, "2024-02-25", week["dates"][0])
	assert.Equal(t, "2024-03-02", week["dates"][6])

	var nav map[string]string
	getJSON(t, srv.URL+"/api/navigate?date=2024-01-31&view=month&step=1", &nav)
	assert.Equal(t, "2024-02-29", nav["date"])

	getJSON(t, srv.URL+"/api/navigate?view=week&step=-1", &nav)
	assert.Equal(t, "2024-02-13", nav["date"])

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/navigate?view=year", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/navigate?step=two", nil))

	var far map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/navigate?date=2024-01-31&view=month&step=9223372036854775807", &far))
	assert.Equal(t, "2124-01-31", far["date"])
}

// America/Santiago has no local midnight on 2024-09-08.
func TestDatesSurviveSkippedMidnight(t *testing.T) {
	srv, st, _ := newTestServer(t, func(c *config.Config) { c.Timezone = "America/Santiago" })
	_, err := st.Add(meeting("m", "2024-09-08", "09:00", "10:00"))
	require.NoError(t, err)

	var lay layoutResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/layout?date=2024-09-08", &lay))
	assert.Equal(t, "2024-09-08", lay.Date)
	require.Len(t, lay.Events, 1)

	var week map[string][]string
	getJSON(t, srv.URL+"/api/week?date=2024-09-10", &week)
	require.Len(t, week["dates"], 7)
	assert.Equal(t, "2024-09-08", week["dates"][0])
	assert.Equal(t, "2024-09-14", week["dates"][6])

	var nav map[string]string
	getJSON(t, srv.URL+"/api/navigate?date=2024-09-07&view=day&step=1", &nav)
	assert.Equal(t, "2024-09-08", nav["date"])

	var month monthResponse
	getJSON(t, srv.URL+"/api/month?date=2024-09-10", &month)
	require.Len(t, month.Weeks, 5)
	assert.Equal(t, "2024-09-08", month.Weeks[1].Days[0].Date)
	assert.Equal(t, 1, month.Weeks[1].Days[0].EventCount)
	assert.Equal(t, "2024-10-05", month.Weeks[4].Days[6].Date)
}

func TestGetEventAndDates(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	for _, ev := range []model.Event{
		meeting("b", "2024-02-21", "09:00", "10:00"),
		meeting("a", "2024-02-20", "09:00", "10:00"),
		meeting("c", "2024-02-20", "11:00", "12:00"),
	} {
		_, err := st.Add(ev)
		require.NoError(t, err)
	}

	var got model.Event
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/events/c", &got))
	assert.Equal(t, "11:00", got.StartTime)
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/events/missing", nil))

	var dates map[string][]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/dates", &dates))
	assert.Equal(t, []string{"2024-02-20", "2024-02-21"}, dates["dates"])
}

func TestSlotEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	tests := []struct {
		y    string
		code int
		want string
	}{
		{"0", http.StatusOK, "00:00"},
		{"750", http.StatusOK, "09:22"},
		{"-40", http.StatusOK, "00:00"},
		{"1e9", http.StatusOK, "23:59"},
		{"", http.StatusBadRequest, ""},
		{"NaN", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run("y="+tt.y, func(t *testing.T) {
			var got slotResponse
			code := getJSON(t, srv.URL+"/api/slot?y="+tt.y, &got)
			assert.Equal(t, tt.code, code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.want, got.Time)
			}
		})
	}
}

func TestExportEndpoint(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	_, err := st.Add(meeting("early", "2024-02-01", "09:00", "10:00"))
	require.NoError(t, err)
	_, err = st.Add(meeting("late", "2024-02-28", "09:00", "10:00"))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/calendar.ics?from=2024-02-10&to=2024-02-28")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
	assert.Contains(t, string(body), "SUMMARY:late")
	assert.NotContains(t, string(body), "SUMMARY:early")

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/calendar.ics?from=bogus", nil))
}

func TestDayPage(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	_, err := st.Add(model.Event{ID: "p1", Title: "Planning <draft>", Date: "2024-02-20", StartTime: "09:00", EndTime: "10:00", Category: model.CategoryDeepWork})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/day")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	html := string(body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, html, `data-ready="true"`)
	assert.Contains(t, html, "Planning &lt;draft&gt;")
	assert.Contains(t, html, "top: 720.00px")
	assert.Contains(t, html, `class="now"`)
	assert.Contains(t, html, "/day?date=2024-02-21")

	other, err := http.Get(srv.URL + "/day?date=2024-02-21")
	require.NoError(t, err)
	defer other.Body.Close()
	otherBody, _ := io.ReadAll(other.Body)
	assert.NotContains(t, string(otherBody), `class="now"`)
}

func TestBasicAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "me", Password: "secret"}
	})

	resp, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	req.SetBasicAuth("me", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	getJSON(t, srv.URL+"/api/layout?date=2024-02-20", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `dayplan_http_requests_total{code="200",route="layout"} 1`)
}

func TestResolveLocation(t *testing.T) {
	assert.Equal(t, time.Local, ResolveLocation(""))
	assert.Equal(t, time.Local, ResolveLocation("Local"))
	assert.Equal(t, time.Local, ResolveLocation("Mars/Olympus_Mons"))
	assert.Equal(t, "UTC", ResolveLocation("UTC").String())
}
