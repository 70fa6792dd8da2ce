package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientListDevices(t *testing.T) {
	var gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("orgUnitPath")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"devices":[
			{"deviceId":"d1","serialNumber":"SN1","macAddress":"aa:bb:cc:dd:ee:01","annotatedUser":"alice@school.edu","orgUnitPath":"/Students"},
			{"deviceId":"d2","serialNumber":"SN2","macAddress":"aa:bb:cc:dd:ee:02","annotatedUser":"bob@school.edu","orgUnitPath":"/Students"}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token", 5*time.Second, zerolog.Nop())
	records, err := client.ListDevices(context.Background(), "/Students")

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "/Students", gotQuery)
	require.Len(t, records, 2)
	assert.Equal(t, "d1", records[0].DeviceID)
	assert.Equal(t, "aa:bb:cc:dd:ee:02", records[1].MACAddress)
	assert.Equal(t, "alice@school.edu", records[0].AnnotatedUser)
}

func TestClientListDevicesEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, zerolog.Nop())
	records, err := client.ListDevices(context.Background(), "/Students")

	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestClientGetDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices/d1", r.URL.Path)
		w.Write([]byte(`{"deviceId":"d1","status":"ACTIVE","model":"Chromebook 14"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, zerolog.Nop())
	record, err := client.GetDevice(context.Background(), "d1")

	require.NoError(t, err)
	assert.Equal(t, "d1", record.DeviceID)
	assert.Equal(t, "ACTIVE", record.Status)
	assert.Equal(t, "Chromebook 14", record.Model)
}

func TestClientGetDeviceNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such device", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, zerolog.Nop())
	_, err := client.GetDevice(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientServerErrorIsUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, zerolog.Nop())
	_, err := client.ListDevices(context.Background(), "/Students")

	assert.ErrorIs(t, err, ErrUpstream)
}

func TestClientMalformedResponseIsUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, zerolog.Nop())
	_, err := client.ListDevices(context.Background(), "/Students")

	assert.ErrorIs(t, err, ErrUpstream)
}

func TestClientUnreachableHostIsUpstream(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "", 500*time.Millisecond, zerolog.Nop())
	_, err := client.ListDevices(context.Background(), "/Students")

	assert.ErrorIs(t, err, ErrUpstream)
}

func TestClientNoAuthHeaderWithoutToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"devices":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, zerolog.Nop())
	_, err := client.ListDevices(context.Background(), "/Students")

	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}
