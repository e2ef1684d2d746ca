package sink

import (
	"testing"

	"github.com/maxpert/logcursor/cfg"
	"github.com/maxpert/logcursor/dispatch"
	"github.com/segmentio/kafka-go"
)

func TestDefaultKafkaConfig(t *testing.T) {
	brokers := []string{"localhost:9092", "localhost:9093"}
	config := DefaultKafkaConfig(brokers)

	if len(config.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %d", len(config.Brokers))
	}

	if config.BatchSize != DefaultKafkaBatchSize {
		t.Errorf("expected batch size %d, got %d", DefaultKafkaBatchSize, config.BatchSize)
	}

	if config.RequiredAcks != kafka.RequireAll {
		t.Errorf("expected RequireAll acks, got %v", config.RequiredAcks)
	}

	if !config.AutoCreateTopics {
		t.Error("expected worker topics to be auto-created")
	}
}

func TestNewKafkaSink(t *testing.T) {
	sink, err := NewKafkaSink(KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		BatchSize:    10,
		RequiredAcks: kafka.RequireOne,
	})
	if err != nil {
		t.Fatalf("unexpected error creating sink: %v", err)
	}
	defer sink.Close()

	if sink.writer.BatchSize != 10 {
		t.Errorf("expected batch size 10, got %d", sink.writer.BatchSize)
	}

	if sink.writer.BatchBytes != DefaultKafkaBatchBytes {
		t.Errorf("expected default batch bytes, got %d", sink.writer.BatchBytes)
	}

	if sink.writer.Async {
		t.Error("expected synchronous writes")
	}

	if _, ok := sink.writer.Balancer.(*kafka.Hash); !ok {
		t.Errorf("expected hash balancer, got %T", sink.writer.Balancer)
	}
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaSink(KafkaConfig{}); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestKafkaSinkRegistered(t *testing.T) {
	s, err := dispatch.NewSink(cfg.SinkConfiguration{
		Type:      cfg.SinkKafka,
		Brokers:   []string{"localhost:9092"},
		BatchSize: 7,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	ks, ok := s.(*KafkaSink)
	if !ok {
		t.Fatalf("expected *KafkaSink, got %T", s)
	}
	if ks.writer.BatchSize != 7 {
		t.Errorf("expected batch size 7, got %d", ks.writer.BatchSize)
	}
}
