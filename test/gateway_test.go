package test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/metadata"
)

type GatewayTestSuite struct {
	IntegrationTestSuite
}

func TestGatewayTestSuite(t *testing.T) {
	suite.Run(t, &GatewayTestSuite{})
}

func (s *GatewayTestSuite) TestRecordLifecycle() {
	users := s.client.Module("Shop", "users")

	var list []map[string]interface{}
	status, err := users.List(&list)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	s.NotNil(list)

	var created map[string]interface{}
	status, err = users.Create(map[string]interface{}{"name": "Ann", "tags": []string{"a"}}, &created)
	s.Require().NoError(err)
	s.Equal(http.StatusCreated, status)
	item := users.Item(uuid.MustParse(created["id"].(string)))

	var read map[string]interface{}
	_, err = item.Read(&read)
	s.Require().NoError(err)
	s.Equal("Ann", read["name"])
	s.Equal(false, read["isDeleted"])

	var result map[string]interface{}
	_, err = item.Update(map[string]interface{}{"name": "Ann"}, &result)
	s.Require().NoError(err)
	s.Equal(false, result["modified"])
	_, err = item.Update(map[string]interface{}{"name": "Bob"}, &result)
	s.Require().NoError(err)
	s.Equal(true, result["modified"])

	status, err = item.SoftDelete()
	s.Require().NoError(err)
	s.Equal(http.StatusOK, status)
	status, _, err = s.client.RawRequest(http.MethodGet, item.Path(), nil)
	s.Require().NoError(err)
	s.Equal(http.StatusNotFound, status)

	s.expectNotifications(created["id"].(string), core.OperationCreate, core.OperationUpdate, core.OperationDelete)
}

func (s *GatewayTestSuite) TestConcurrentFirstCreation() {
	file := `
projects:
  - name: Shop
    modules:
      - name: orders
        resources:
          - method: POST
`
	s.seed(file)
	orders := s.client.Module("Shop", "orders")

	var wg sync.WaitGroup
	statuses := make([]int, 10)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], _ = orders.Create(map[string]interface{}{"n": i}, nil)
		}(i)
	}
	wg.Wait()
	for _, status := range statuses {
		s.Equal(http.StatusCreated, status)
	}
}

func (s *GatewayTestSuite) seed(yaml string) {
	file, err := metadata.ParseSeed([]byte(yaml))
	s.Require().NoError(err)
	s.Require().NoError(metadata.Seed(context.Background(), s.registry, file))
}

// expectNotifications reads the notifications of record id from the topic, in order
func (s *GatewayTestSuite) expectNotifications(id string, operations ...core.Operation) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{s.kafkaAddr},
		Topic:     notificationTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var got []core.Operation
	for len(got) < len(operations) {
		m, err := reader.ReadMessage(ctx)
		s.Require().NoError(err)
		if string(m.Key) != id {
			continue
		}
		var event struct {
			Operation core.Operation `json:"operation"`
		}
		s.Require().NoError(json.Unmarshal(m.Value, &event))
		got = append(got, event.Operation)
	}
	s.Equal(operations, got)
}
