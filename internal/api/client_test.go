package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/medviewlabs/signal-uplink/internal/logging"
)

func TestLoginAndCredentialFetch(t *testing.T) {
	var loginCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/login":
			loginCalls.Add(1)
			var payload struct {
				UserMessage struct {
					Email string `json:"email"`
				} `json:"userMessage"`
				Password string `json:"password"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("bad login payload: %v", err)
			}
			if payload.UserMessage.Email != "doc@clinic.test" || payload.Password != "pw" {
				t.Errorf("unexpected login payload: %+v", payload)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jwtToken": "jwt-1",
				"userInfo": map[string]string{"hospitalId": "h42"},
			})

		case "/file/getS3Credentials":
			if got := r.Header.Get("Authorization"); got != "Bearer jwt-1" {
				t.Errorf("Authorization = %q, want Bearer jwt-1", got)
			}
			var payload map[string]interface{}
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["keyId"] != "patient-7" {
				t.Errorf("keyId = %v, want patient-7", payload["keyId"])
			}
			if payload["resourceType"] != float64(2) {
				t.Errorf("resourceType = %v, want 2", payload["resourceType"])
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"amazonTemporaryCredentials": map[string]string{
						"accessKeyId":                     "AKIA1",
						"secretAccessKey":                 "sk",
						"sessionToken":                    "st",
						"expirationTimestampSecondsInUTC": "1754400000",
					},
				},
			})

		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "doc@clinic.test", "pw", logging.Nop())

	creds, err := client.GetS3Credentials(context.Background(), "patient-7")
	if err != nil {
		t.Fatalf("GetS3Credentials() failed: %v", err)
	}
	if creds.AccessKeyID != "AKIA1" {
		t.Errorf("AccessKeyID = %q, want AKIA1", creds.AccessKeyID)
	}
	if loginCalls.Load() != 1 {
		t.Errorf("login calls = %d, want 1 (lazy, once)", loginCalls.Load())
	}
	if client.HospitalID() != "h42" {
		t.Errorf("HospitalID() = %q, want h42", client.HospitalID())
	}

	// Second call reuses the token.
	if _, err := client.GetS3Credentials(context.Background(), "patient-7"); err != nil {
		t.Fatalf("second GetS3Credentials() failed: %v", err)
	}
	if loginCalls.Load() != 1 {
		t.Errorf("login calls = %d, want still 1", loginCalls.Load())
	}
}

func TestTokenExpiryRelogin(t *testing.T) {
	var (
		loginCalls   atomic.Int32
		confirmCalls atomic.Int32
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/login":
			n := loginCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jwtToken": map[int32]string{1: "jwt-old", 2: "jwt-new"}[n],
				"userInfo": map[string]string{"hospitalId": "h1"},
			})

		case "/file/confirmIncrementalUploadFile":
			confirmCalls.Add(1)
			if r.Header.Get("Authorization") == "Bearer jwt-old" {
				// Expired token: backend signals with 401.
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": map[string]string{"code": "OK", "message": "OK"},
			})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "doc@clinic.test", "pw", logging.Nop())

	payload := NewConfirmPayload("d1", "scan", "a.bin", "patient/p/source_data/d1/scan/a.bin", "p", 123)
	resp, err := client.ConfirmIncrementalUploadFile(context.Background(), payload)
	if err != nil {
		t.Fatalf("ConfirmIncrementalUploadFile() failed: %v", err)
	}
	if !resp.OK() {
		t.Error("confirmation should be OK after re-login")
	}

	if loginCalls.Load() != 2 {
		t.Errorf("login calls = %d, want 2 (initial + re-login on 401)", loginCalls.Load())
	}
	if confirmCalls.Load() != 2 {
		t.Errorf("confirm calls = %d, want 2 (401 then replay)", confirmCalls.Load())
	}
}

func TestBatchConfirmInterpretation(t *testing.T) {
	tests := []struct {
		name string
		resp BatchConfirmResponse
		want bool
	}{
		{"success", BatchConfirmResponse{SuccessUploads: []string{"a.bin"}}, true},
		{"explicit failure", BatchConfirmResponse{SuccessUploads: []string{"a"}, FailedUploads: []string{"b"}}, false},
		{"only failures", BatchConfirmResponse{FailedUploads: []string{"b"}}, false},
		{"ambiguous empty", BatchConfirmResponse{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.OK(); got != tt.want {
				t.Errorf("OK() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIncrementalConfirmInterpretation(t *testing.T) {
	ok := IncrementalConfirmResponse{}
	ok.Status.Code = "OK"
	ok.Status.Message = "OK"
	if !ok.OK() {
		t.Error("code OK / message OK should succeed")
	}

	bad := IncrementalConfirmResponse{}
	bad.Status.Code = "OK"
	bad.Status.Message = "partial"
	if bad.OK() {
		t.Error("message other than OK should fail")
	}

	empty := IncrementalConfirmResponse{}
	if empty.OK() {
		t.Error("missing status should fail")
	}
}

func TestConfirmPayloadShape(t *testing.T) {
	payload := NewConfirmPayload("d1", "scan", "a.bin", "patient/p/source_data/d1/scan/a.bin", "p9", 4096)

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var m map[string]interface{}
	json.Unmarshal(data, &m)

	want := map[string]interface{}{
		"dataId":            "d1",
		"dataName":          "scan",
		"fileName":          "a.bin",
		"s3ObjectKey":       "patient/p/source_data/d1/scan/a.bin",
		"dataSize":          float64(4096),
		"patientId":         "p9",
		"dataType":          float64(20),
		"uploadDataName":    "scan",
		"isRawDataInternal": float64(1),
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("payload[%q] = %v, want %v", k, m[k], v)
		}
	}
	if versions, ok := m["dataVersions"].([]interface{}); !ok || len(versions) != 1 || versions[0] != float64(0) {
		t.Errorf("dataVersions = %v, want [0]", m["dataVersions"])
	}
}

func TestGenerateUniqueDataIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/login":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jwtToken": "jwt",
				"userInfo": map[string]string{"hospitalId": "h1"},
			})
		case "/file/generateUniqueKey/3":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []string{"k1", "k2", "k3"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "doc@clinic.test", "pw", logging.Nop())

	ids, err := client.GenerateUniqueDataIDs(context.Background(), 3)
	if err != nil {
		t.Fatalf("GenerateUniqueDataIDs() failed: %v", err)
	}
	if len(ids) != 3 || ids[0] != "k1" {
		t.Errorf("ids = %v, want [k1 k2 k3]", ids)
	}

	if _, err := client.GenerateUniqueDataIDs(context.Background(), 0); err == nil {
		t.Error("quantity 0 should be rejected")
	}
}
