package models

import (
	"encoding/json"
	"testing"
)

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		jobType JobType
		payload string
		check   func(t *testing.T, decoded interface{})
	}{
		{
			name:    "process_email",
			jobType: JobTypeProcessEmail,
			payload: `{"graphMessageId":"msg-1","connectionId":"conn-1","userId":"user-1"}`,
			check: func(t *testing.T, decoded interface{}) {
				p, ok := decoded.(ProcessEmailPayload)
				if !ok {
					t.Fatalf("expected ProcessEmailPayload, got %T", decoded)
				}
				if p.GraphMessageID != "msg-1" || p.ConnectionID != "conn-1" {
					t.Errorf("unexpected payload: %+v", p)
				}
			},
		},
		{
			name:    "send_email",
			jobType: JobTypeSendEmail,
			payload: `{"sentEmailId":"se-1","connectionId":"conn-1","userId":"user-1"}`,
			check: func(t *testing.T, decoded interface{}) {
				p, ok := decoded.(SendEmailPayload)
				if !ok {
					t.Fatalf("expected SendEmailPayload, got %T", decoded)
				}
				if p.SentEmailID != "se-1" {
					t.Errorf("unexpected payload: %+v", p)
				}
			},
		},
		{
			name:    "sync_folder",
			jobType: JobTypeSyncFolder,
			payload: `{"connectionId":"conn-1","userId":"user-1","folderId":"inbox","folderName":"Inbox"}`,
			check: func(t *testing.T, decoded interface{}) {
				p, ok := decoded.(SyncFolderPayload)
				if !ok {
					t.Fatalf("expected SyncFolderPayload, got %T", decoded)
				}
				if p.FolderID != "inbox" {
					t.Errorf("unexpected payload: %+v", p)
				}
			},
		},
		{
			name:    "renew_subscription",
			jobType: JobTypeRenewSubscription,
			payload: `{"subscriptionId":"sub-1","connectionId":"conn-1"}`,
			check: func(t *testing.T, decoded interface{}) {
				p, ok := decoded.(RenewSubscriptionPayload)
				if !ok {
					t.Fatalf("expected RenewSubscriptionPayload, got %T", decoded)
				}
				if p.SubscriptionID != "sub-1" {
					t.Errorf("unexpected payload: %+v", p)
				}
			},
		},
		{
			name:    "process_ai",
			jobType: JobTypeProcessAI,
			payload: `{"processedEmailId":"pe-1","connectionId":"conn-1","userId":"user-1"}`,
			check: func(t *testing.T, decoded interface{}) {
				p, ok := decoded.(ProcessAIPayload)
				if !ok {
					t.Fatalf("expected ProcessAIPayload, got %T", decoded)
				}
				if p.ProcessedEmailID != "pe-1" {
					t.Errorf("unexpected payload: %+v", p)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := Job{JobType: tt.jobType, Payload: json.RawMessage(tt.payload)}
			decoded, err := job.DecodePayload()
			if err != nil {
				t.Fatalf("DecodePayload failed: %v", err)
			}
			tt.check(t, decoded)
		})
	}
}

func TestDecodePayload_UnknownType(t *testing.T) {
	job := Job{JobType: JobType("mystery"), Payload: json.RawMessage(`{}`)}
	if _, err := job.DecodePayload(); err == nil {
		t.Fatal("expected error for unknown job type")
	}
}

func TestDecodePayload_MalformedJSON(t *testing.T) {
	job := Job{JobType: JobTypeProcessEmail, Payload: json.RawMessage(`{not json`)}
	if _, err := job.DecodePayload(); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
