// Package grpcclient is the concrete wire adapter for executor.Client: it
// dials a cluster's executor over gRPC and marshals each call's
// request/response through structpb.Struct, keeping the domain-facing
// executor.Client interface free of generated-proto types (spec.md §4.4,
// §6 "the JSON-over-HTTP/Thrift binding is the adapter's concern").
package grpcclient

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kandev/ciagent/internal/executor"
	"github.com/kandev/ciagent/internal/scheduler/resources"
)

const (
	methodListJobs       = "/executor.Executor/ListJobs"
	methodGetTaskHistory = "/executor.Executor/GetTaskHistory"
	methodCreateJob      = "/executor.Executor/CreateJob"
	methodKillTasks      = "/executor.Executor/KillTasks"
	methodGetQuota       = "/executor.Executor/GetQuota"
)

// Client is a gRPC-backed executor.Client. A single Client wraps exactly
// one connection; callers must not use it concurrently (spec.md §4.4) —
// wrap it in executor.Cache to get that guarantee.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a new gRPC connection to an executor URL and returns it as
// an executor.Client. It satisfies executor.Dialer.
func Dial(executorURL string) (executor.Client, error) {
	conn, err := grpc.NewClient(executorURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpcclient: dialing %s: %w", executorURL, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, &executor.Error{Code: executor.ErrUnavailable, Messages: []string{err.Error()}}
	}
	if codeVal, ok := resp.Fields["responseCode"]; ok && codeVal.GetStringValue() != "" && codeVal.GetStringValue() != "OK" {
		return nil, responseError(resp)
	}
	return resp, nil
}

func responseError(resp *structpb.Struct) error {
	code := executor.ErrorCode(resp.Fields["responseCode"].GetStringValue())
	var messages []string
	if details, ok := resp.Fields["details"]; ok {
		for _, v := range details.GetListValue().GetValues() {
			messages = append(messages, v.GetStringValue())
		}
	}
	return &executor.Error{Code: code, Messages: messages}
}

func (c *Client) ListJobs(ctx context.Context, role, env string) ([]executor.JobSummary, error) {
	req, _ := structpb.NewStruct(map[string]interface{}{"role": role, "env": env})
	resp, err := c.call(ctx, methodListJobs, req)
	if err != nil {
		return nil, err
	}

	var out []executor.JobSummary
	for _, v := range resp.Fields["jobs"].GetListValue().GetValues() {
		fields := v.GetStructValue().GetFields()
		out = append(out, executor.JobSummary{
			AgentID:  fields["agentId"].GetStringValue(),
			Pending:  int(fields["pending"].GetNumberValue()),
			Active:   int(fields["active"].GetNumberValue()),
			Failed:   int(fields["failed"].GetNumberValue()),
			Finished: int(fields["finished"].GetNumberValue()),
		})
	}
	return out, nil
}

func (c *Client) GetTaskHistory(ctx context.Context, agentID string) (executor.TaskHistory, error) {
	req, _ := structpb.NewStruct(map[string]interface{}{"agentId": agentID})
	resp, err := c.call(ctx, methodGetTaskHistory, req)
	if err != nil {
		return executor.TaskHistory{}, err
	}

	hist := executor.TaskHistory{Status: resp.Fields["status"].GetStringValue()}
	for _, v := range resp.Fields["events"].GetListValue().GetValues() {
		fields := v.GetStructValue().GetFields()
		hist.Events = append(hist.Events, executor.TaskEvent{
			Time:    fields["time"].GetStringValue(),
			Status:  fields["status"].GetStringValue(),
			Message: fields["message"].GetStringValue(),
		})
	}
	return hist, nil
}

func (c *Client) CreateJob(ctx context.Context, role, env, name string, spec executor.JobSpec, res resources.Vector) error {
	req, err := structpb.NewStruct(map[string]interface{}{
		"role": role,
		"env":  env,
		"name": name,
		"resources": map[string]interface{}{
			"cpu":  res.CPU,
			"ram":  res.RAM,
			"disk": res.Disk,
		},
		"taskSpec": encodeJobSpec(spec),
	})
	if err != nil {
		return fmt.Errorf("grpcclient: encoding create-job request: %w", err)
	}
	_, err = c.call(ctx, methodCreateJob, req)
	return err
}

func encodeJobSpec(spec executor.JobSpec) map[string]interface{} {
	return map[string]interface{}{
		"install":   encodeProcess(spec.Install),
		"configure": encodeProcess(spec.Configure),
		"run":       encodeProcess(spec.Run),
		"constraint": map[string]interface{}{
			"order": []interface{}{"install", "configure", "run"},
		},
		"finalizationWait": 30,
		"maxFailures":      1,
		"maxConcurrency":   0,
	}
}

func encodeProcess(p executor.Process) map[string]interface{} {
	commands := make([]interface{}, len(p.Commands))
	for i, c := range p.Commands {
		commands[i] = c
	}
	return map[string]interface{}{
		"name":        p.Name,
		"commands":    commands,
		"maxFailures": p.MaxFailures,
		"ephemeral":   p.Ephemeral,
		"minDuration": p.MinDuration,
		"daemon":      p.Daemon,
		"final":       p.Final,
	}
}

func (c *Client) KillTasks(ctx context.Context, jobKey, reason string) error {
	req, _ := structpb.NewStruct(map[string]interface{}{"jobKey": jobKey, "reason": reason})
	_, err := c.call(ctx, methodKillTasks, req)
	return err
}

func (c *Client) GetQuota(ctx context.Context, role string) (resources.Quota, error) {
	req, _ := structpb.NewStruct(map[string]interface{}{"role": role})
	resp, err := c.call(ctx, methodGetQuota, req)
	if err != nil {
		return resources.Quota{}, err
	}

	avail := resp.Fields["available"].GetStructValue().GetFields()
	usage := resp.Fields["usage"].GetStructValue().GetFields()
	return resources.Quota{
		Available: resources.Vector{
			CPU:  avail["cpu"].GetNumberValue(),
			RAM:  avail["ram"].GetNumberValue(),
			Disk: avail["disk"].GetNumberValue(),
		},
		Usage: resources.Vector{
			CPU:  usage["cpu"].GetNumberValue(),
			RAM:  usage["ram"].GetNumberValue(),
			Disk: usage["disk"].GetNumberValue(),
		},
	}, nil
}

func (c *Client) IsOpen() bool {
	state := c.conn.GetState()
	return state.String() != "SHUTDOWN"
}

func (c *Client) Close() error {
	return c.conn.Close()
}
