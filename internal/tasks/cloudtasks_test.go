package tasks

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
)

// fakeTasksService records CreateTask requests in place of the real Cloud
// Tasks API.
type fakeTasksService struct {
	cloudtaskspb.UnimplementedCloudTasksServer
	mu       sync.Mutex
	requests []*cloudtaskspb.CreateTaskRequest
}

func (f *fakeTasksService) CreateTask(ctx context.Context, req *cloudtaskspb.CreateTaskRequest) (*cloudtaskspb.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	task := proto.Clone(req.GetTask()).(*cloudtaskspb.Task)
	if task.GetName() == "" {
		task.Name = fmt.Sprintf("%s/tasks/task-%d", req.GetParent(), len(f.requests))
	}
	return task, nil
}

func (f *fakeTasksService) created() []*cloudtaskspb.CreateTaskRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*cloudtaskspb.CreateTaskRequest(nil), f.requests...)
}

func newCloudTasksForTest(t *testing.T) (*CloudTasks, *fakeTasksService) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	fake := &fakeTasksService{}
	srv := grpc.NewServer()
	cloudtaskspb.RegisterCloudTasksServer(srv, fake)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial fake server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	client, err := cloudtasks.NewClient(context.Background(), option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewCloudTasks(client, QueuePath("test-project", "us-west1", "renewals")), fake
}

func TestQueuePath(t *testing.T) {
	got := QueuePath("my-project", "europe-west3", "my-queue")
	want := "projects/my-project/locations/europe-west3/queues/my-queue"
	if got != want {
		t.Errorf("QueuePath() = %q, want %q", got, want)
	}
}

func TestScheduleCreatesTask(t *testing.T) {
	ctx := context.Background()
	scheduler, fake := newCloudTasksForTest(t)

	scheduleTime := time.Now().Add(3 * time.Hour).Truncate(time.Second)
	name, err := scheduler.Schedule(ctx, Task{
		Method: http.MethodPatch,
		URL:    "https://calendupe.example.com/subscription",
		Headers: map[string]string{
			"Content-Type":         "application/json",
			"X-Goog-Channel-Token": "secret",
		},
		Body:         []byte(`{"watched_resource_id":"resource1"}`),
		ScheduleTime: scheduleTime,
	})
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if name == "" {
		t.Error("Schedule() returned an empty task name")
	}

	requests := fake.created()
	if len(requests) != 1 {
		t.Fatalf("fake received %d requests, want 1", len(requests))
	}
	req := requests[0]

	if req.GetParent() != "projects/test-project/locations/us-west1/queues/renewals" {
		t.Errorf("parent = %q, want the configured queue path", req.GetParent())
	}

	httpReq := req.GetTask().GetHttpRequest()
	if httpReq == nil {
		t.Fatal("task has no HTTP request")
	}
	if httpReq.GetHttpMethod() != cloudtaskspb.HttpMethod_PATCH {
		t.Errorf("method = %v, want PATCH", httpReq.GetHttpMethod())
	}
	if httpReq.GetUrl() != "https://calendupe.example.com/subscription" {
		t.Errorf("url = %q, want the callback URL", httpReq.GetUrl())
	}
	if httpReq.GetHeaders()["X-Goog-Channel-Token"] != "secret" {
		t.Errorf("headers = %v, want the channel token included", httpReq.GetHeaders())
	}
	if string(httpReq.GetBody()) != `{"watched_resource_id":"resource1"}` {
		t.Errorf("body = %q, want the renewal payload", httpReq.GetBody())
	}

	if got := req.GetTask().GetScheduleTime().AsTime(); !got.Equal(scheduleTime) {
		t.Errorf("schedule time = %v, want %v", got, scheduleTime)
	}
}

func TestScheduleImmediateTask(t *testing.T) {
	ctx := context.Background()
	scheduler, fake := newCloudTasksForTest(t)

	if _, err := scheduler.Schedule(ctx, Task{
		Method: http.MethodPost,
		URL:    "https://calendupe.example.com/subscription",
	}); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	requests := fake.created()
	if len(requests) != 1 {
		t.Fatalf("fake received %d requests, want 1", len(requests))
	}
	if requests[0].GetTask().GetScheduleTime() != nil {
		t.Errorf("schedule time = %v, want unset for immediate tasks", requests[0].GetTask().GetScheduleTime())
	}
}

func TestScheduleRejectsUnknownMethod(t *testing.T) {
	scheduler, fake := newCloudTasksForTest(t)

	if _, err := scheduler.Schedule(context.Background(), Task{
		Method: "TELEPORT",
		URL:    "https://calendupe.example.com/subscription",
	}); err == nil {
		t.Fatal("Schedule() with unknown method returned nil error")
	}
	if requests := fake.created(); len(requests) != 0 {
		t.Errorf("fake received %d requests, want none for a rejected method", len(requests))
	}
}
