// Smoke-checks the backing services a harvester deployment needs: the Redis
// staging store, the harvester HTTP surface, and the Kafka completion topic.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	pingErr := client.Ping(ctx).Err()
	if pingErr != nil {
		return fmt.Errorf("redis ping: %w", pingErr)
	}

	setErr := client.Set(ctx, "harvest:smoketest", "ok", 30*time.Second).Err()
	if setErr != nil {
		return fmt.Errorf("redis set: %w", setErr)
	}

	val, err := client.Get(ctx, "harvest:smoketest").Result()
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}

	fmt.Println("redis GET harvest:smoketest: ", val)
	return nil
}

func testHarvester(ctx context.Context, baseURL string) error {
	fmt.Println("Harvester test")

	base := strings.TrimRight(baseURL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("http get health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}

	// One real harvest against a point with known Look Around coverage
	payload := []byte(`{"coordinates":{"lat":37.33264,"lng":-122.005}}`)
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, base+"/harvest", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build harvest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("http post harvest: %w", err)
	}
	defer func() { _ = resp2.Body.Close() }()

	// Only read a small part of body (because it can be large)
	body, _ := io.ReadAll(io.LimitReader(resp2.Body, 2048))
	fmt.Printf("harvest status %d sample:\n", resp2.StatusCode)
	fmt.Println(string(body))
	if resp2.StatusCode != http.StatusOK && resp2.StatusCode != http.StatusNotFound {
		return fmt.Errorf("harvest status %d", resp2.StatusCode)
	}
	return nil
}

func testKafka(brokers []string, topic string) error {
	fmt.Println("Kafka test")

	// Configure sarama and produce a message
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	payload := map[string]any{
		"artifact_id": "smoketest",
		"path":        "output/smoketest.jpg",
		"provider":    "lookaround",
		"lat":         37.33264,
		"lng":         -122.005,
		"checksum":    "xx64:0000000000000000",
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
	}

	// Convert to json and send
	msgBytes, _ := json.Marshal(payload)
	_, _, err = prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic, Value: sarama.ByteEncoder(msgBytes),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Println("produced one message")

	// Consume the message
	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	pc, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		pc, err = consumer.ConsumePartition(topic, 0, sarama.OffsetOldest)
		if err != nil {
			return fmt.Errorf("consume partition: %w", err)
		}
	}
	defer func() { _ = pc.Close() }()

	select {
	case m := <-pc.Messages():
		fmt.Println("consumed:", string(m.Value))
	case <-time.After(5 * time.Second):
		fmt.Println("no message consumed (timeout)")
	}

	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	harvester := getenv("HARVESTER_URL", "http://localhost:8080")
	brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getenv("KAFKA_TOPIC", "harvest.completed")

	if err := testRedis(ctx, redisAddr); err != nil {
		fmt.Println("Redis error:", err)
		return
	}
	if err := testHarvester(ctx, harvester); err != nil {
		fmt.Println("Harvester error:", err)
		return
	}
	if err := testKafka(brokers, topic); err != nil {
		fmt.Println("Kafka error:", err)
		return
	}
	fmt.Println("All tests completed")
}
