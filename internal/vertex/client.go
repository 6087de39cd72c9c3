// SPDX-License-Identifier: AGPL-3.0-or-later

package vertex

import (
	"context"
	"fmt"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
)

const userAgent = "kfpt"

// JobClient is the subset of the pipeline service used to submit jobs.
// *aiplatform.PipelineClient implements it.
type JobClient interface {
	CreatePipelineJob(ctx context.Context, req *aiplatformpb.CreatePipelineJobRequest, opts ...gax.CallOption) (*aiplatformpb.PipelineJob, error)
	Close() error
}

// ClientFactory opens a JobClient for a region.
type ClientFactory func(ctx context.Context, location string, opts ...option.ClientOption) (JobClient, error)

// Endpoint returns the regional API endpoint for location.
func Endpoint(location string) string {
	return fmt.Sprintf("%s-aiplatform.googleapis.com:443", location)
}

// NewJobClient dials the regional pipeline service with application default
// credentials unless opts say otherwise.
func NewJobClient(ctx context.Context, location string, opts ...option.ClientOption) (JobClient, error) {
	all := append([]option.ClientOption{
		option.WithEndpoint(Endpoint(location)),
		option.WithGRPCDialOption(grpc.WithUserAgent(userAgent)),
	}, opts...)
	c, err := aiplatform.NewPipelineClient(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("vertex: pipeline client for %s: %w", location, err)
	}
	return c, nil
}
