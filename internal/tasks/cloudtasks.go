package tasks

import (
	"context"
	"fmt"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// CloudTasks schedules tasks on a Google Cloud Tasks queue.
type CloudTasks struct {
	client    *cloudtasks.Client
	queuePath string
}

// QueuePath formats the fully qualified name of a Cloud Tasks queue.
func QueuePath(project, location, queue string) string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s", project, location, queue)
}

// NewCloudTasks wraps an existing Cloud Tasks client targeting the given
// queue.
func NewCloudTasks(client *cloudtasks.Client, queuePath string) *CloudTasks {
	return &CloudTasks{client: client, queuePath: queuePath}
}

// Schedule enqueues the task and returns its fully qualified name.
func (c *CloudTasks) Schedule(ctx context.Context, task Task) (string, error) {
	method, ok := cloudtaskspb.HttpMethod_value[task.Method]
	if !ok || method == int32(cloudtaskspb.HttpMethod_HTTP_METHOD_UNSPECIFIED) {
		return "", fmt.Errorf("unsupported task method %q", task.Method)
	}

	req := &cloudtaskspb.CreateTaskRequest{
		Parent: c.queuePath,
		Task: &cloudtaskspb.Task{
			MessageType: &cloudtaskspb.Task_HttpRequest{
				HttpRequest: &cloudtaskspb.HttpRequest{
					HttpMethod: cloudtaskspb.HttpMethod(method),
					Url:        task.URL,
					Headers:    task.Headers,
					Body:       task.Body,
				},
			},
		},
	}
	if !task.ScheduleTime.IsZero() {
		req.Task.ScheduleTime = timestamppb.New(task.ScheduleTime)
	}

	created, err := c.client.CreateTask(ctx, req)
	if err != nil {
		return "", fmt.Errorf("unable to create task on %s: %w", c.queuePath, err)
	}
	return created.GetName(), nil
}
