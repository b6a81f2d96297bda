package scheduler

import (
	"context"
	"fmt"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// CloudTasksDispatch implements DelayedDispatch on Google Cloud Tasks. The
// idempotency key becomes the task name, so a duplicate registration comes
// back from the API as AlreadyExists instead of a second task.
type CloudTasksDispatch struct {
	client       *cloudtasks.Client
	queuePath    string
	invokerEmail string
}

func NewCloudTasksDispatch(client *cloudtasks.Client, projectID, location, queue, invokerEmail string) *CloudTasksDispatch {
	return &CloudTasksDispatch{
		client:       client,
		queuePath:    fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, location, queue),
		invokerEmail: invokerEmail,
	}
}

func (d *CloudTasksDispatch) Schedule(ctx context.Context, key string, when time.Time, route string) error {
	req := &taskspb.CreateTaskRequest{
		Parent: d.queuePath,
		Task: &taskspb.Task{
			Name:         d.queuePath + "/tasks/" + key,
			ScheduleTime: timestamppb.New(when),
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        route,
					Headers:    map[string]string{"Content-Type": "application/json"},
					AuthorizationHeader: &taskspb.HttpRequest_OidcToken{
						OidcToken: &taskspb.OidcToken{ServiceAccountEmail: d.invokerEmail},
					},
				},
			},
		},
	}
	if _, err := d.client.CreateTask(ctx, req); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrDuplicate
		}
		return fmt.Errorf("create task %s: %w", key, err)
	}
	return nil
}

func (d *CloudTasksDispatch) Cancel(ctx context.Context, key string) error {
	err := d.client.DeleteTask(ctx, &taskspb.DeleteTaskRequest{Name: d.queuePath + "/tasks/" + key})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete task %s: %w", key, err)
	}
	return nil
}
