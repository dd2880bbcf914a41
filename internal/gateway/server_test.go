package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/batheaded/map-reduce/internal/coordinator"
	"github.com/batheaded/map-reduce/internal/gateway/mocks"
	"go.uber.org/mock/gomock"
)

func TestHandleSubmit_RingEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	coord := mocks.NewMockCoordinatorish(ctrl)
	coord.EXPECT().
		Submit(gomock.Any(), gomock.Any(), "wordcount-map", "wordcount-reduce", gomock.Any()).
		Return(int64(0), coordinator.ErrRingEmpty)

	srv := NewServer(":0", coord)

	body, _ := json.Marshal(submitRequest{
		Input:    []kvJSON{{Key: "0", Value: "hello world"}},
		MapFn:    "wordcount-map",
		ReduceFn: "wordcount-reduce",
	})
	req := httptest.NewRequest("POST", "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHandleSubmit_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	coord := mocks.NewMockCoordinatorish(ctrl)
	coord.EXPECT().
		Submit(gomock.Any(), gomock.Any(), "wordcount-map", "wordcount-reduce", gomock.Any()).
		Return(int64(42), nil)

	srv := NewServer(":0", coord)

	body, _ := json.Marshal(submitRequest{
		Input:    []kvJSON{{Key: "0", Value: "hello world"}},
		MapFn:    "wordcount-map",
		ReduceFn: "wordcount-reduce",
	})
	req := httptest.NewRequest("POST", "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.JobID != 42 {
		t.Errorf("job_id = %d, want 42", out.JobID)
	}
}

func TestHandleAwaitResults_JobFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	coord := mocks.NewMockCoordinatorish(ctrl)
	coord.EXPECT().
		AwaitResults(gomock.Any(), int64(7)).
		Return(nil, errors.New("task exceeded max attempts"))

	srv := NewServer(":0", coord)

	req := httptest.NewRequest("GET", "/jobs/7/results", nil)
	resp, err := srv.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != 409 {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}
