package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
)

func TestSlackSenderRendersTemplate(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		got = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := NewSlackSender(server.URL, "ALERT {{.RuleID}} {{side .Side}} {{short_addr .TxHash}}")
	if err != nil {
		t.Fatalf("sender: %v", err)
	}

	err = sender.Send(context.Background(), AlertPayload{
		RuleID: "r1", Side: "home", TxHash: "0x1234567890abcdef",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if got == "" || !contains(got, "ALERT r1 Home 0x1234") {
		t.Fatalf("unexpected payload: %s", got)
	}
}

func TestDefaultTemplate(t *testing.T) {
	tmpl, err := parseTemplate("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := executeTemplate(tmpl, AlertPayload{RuleID: "bal", Kind: "balance_diff", Mode: "erc-to-erc"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "ALERT bal balance_diff erc-to-erc" {
		t.Fatalf("unexpected default render: %q", out)
	}
}

func TestWebhookStatusFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender, err := NewWebhookSender(server.URL, http.MethodPost, "msg", nil)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	err = sender.Send(context.Background(), AlertPayload{RuleID: "r"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("expected status error on 502, got %v", err)
	}
}

func TestWebhookCarriesAlert(t *testing.T) {
	var body struct {
		Text  string       `json:"text"`
		Alert AlertPayload `json:"alert"`
	}
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer server.Close()

	sender, err := NewWebhookSender(server.URL, "put", "", nil)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	err = sender.Send(context.Background(), AlertPayload{
		RuleID: "drift", Kind: "balance_diff", Mode: "erc-to-native",
		Args: map[string]any{"abs_diff": "2"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("content type = %q", contentType)
	}
	if body.Text != "ALERT drift balance_diff erc-to-native" || body.Alert.Args["abs_diff"] != "2" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestKafkaSenderPublishesEnvelope(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Type != kafkaAlertType || env.TS != 1700000000000 {
			return errors.New("unexpected envelope header")
		}
		var p AlertPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		if p.RuleID != "unmatched" || p.Category != "deposits" || p.Args["value"] != "1.5" {
			return errors.New("unexpected alert data")
		}
		return nil
	})

	sender := NewKafkaSenderWithProducer(producer, "alerts")
	sender.now = func() time.Time { return time.UnixMilli(1700000000000) }
	err := sender.Send(context.Background(), AlertPayload{
		RuleID:   "unmatched",
		Category: "deposits",
		Args:     map[string]any{"value": "1.5"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sender.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaSenderFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	sender := NewKafkaSenderWithProducer(producer, "alerts")
	defer sender.Close()
	if err := sender.Send(context.Background(), AlertPayload{RuleID: "r"}); err == nil {
		t.Fatalf("expected kafka failure")
	}
}

func TestKafkaSenderClosesAsSender(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	var s Sender = NewKafkaSenderWithProducer(producer, "alerts")
	c, ok := s.(io.Closer)
	if !ok {
		t.Fatalf("kafka sender should be closable")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewKafkaSenderRequiresTopic(t *testing.T) {
	if _, err := NewKafkaSender([]string{"localhost:9092"}, "", nil); err == nil {
		t.Fatalf("expected missing topic error")
	}
}

func contains(s, substr string) bool { return strings.Contains(s, substr) }
