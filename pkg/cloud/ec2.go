package cloud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/types"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	classCatalogTTL = 15 * time.Minute
	describePageMax = 100
)

// EC2Adapter implements Adapter over the EC2 control plane with one client
// per enabled region.
type EC2Adapter struct {
	mu      sync.Mutex
	clients map[string]*ec2.Client
	catalog *gocache.Cache
	logger  zerolog.Logger
}

// NewEC2Adapter builds clients for the enabled regions from the ambient
// AWS configuration chain.
func NewEC2Adapter(ctx context.Context, regions []string) (*EC2Adapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clients := make(map[string]*ec2.Client, len(regions))
	for _, region := range regions {
		region := region
		clients[region] = ec2.NewFromConfig(cfg, func(o *ec2.Options) {
			o.Region = region
		})
	}

	return &EC2Adapter{
		clients: clients,
		catalog: gocache.New(classCatalogTTL, classCatalogTTL),
		logger:  log.WithComponent("ec2"),
	}, nil
}

func (a *EC2Adapter) client(region string) (*ec2.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.clients[region]
	if !ok {
		return nil, fmt.Errorf("region %s is not enabled", region)
	}
	return c, nil
}

// Describe returns the authoritative state of the given instances
func (a *EC2Adapter) Describe(ctx context.Context, region string, instanceIDs []string) (map[string]*InstanceState, error) {
	client, err := a.client(region)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*InstanceState, len(instanceIDs))
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{
		InstanceIds: instanceIDs,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				state := instanceState(instance, region)
				out[state.InstanceID] = state
			}
		}
	}
	return out, nil
}

// Stop issues a stop request
func (a *EC2Adapter) Stop(ctx context.Context, region, instanceID string) error {
	client, err := a.client(region)
	if err != nil {
		return err
	}

	a.logger.Info().Str("instance_id", instanceID).Msg("Stopping instance")
	_, err = client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("stop %s: %w", instanceID, err)
	}
	return nil
}

// WaitStopped blocks until the instance reports stopped or the timeout lapses
func (a *EC2Adapter) WaitStopped(ctx context.Context, region, instanceID string, timeout time.Duration) error {
	client, err := a.client(region)
	if err != nil {
		return err
	}

	waiter := ec2.NewInstanceStoppedWaiter(client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, timeout); err != nil {
		return fmt.Errorf("wait stopped %s: %w", instanceID, err)
	}
	a.logger.Debug().Str("instance_id", instanceID).Msg("Instance stopped")
	return nil
}

// Modify changes the instance class. Rejections caused by incompatible
// attributes are reported as ModifyNeedFallback rather than failures.
func (a *EC2Adapter) Modify(ctx context.Context, region, instanceID, instanceClass string) (ModifyResult, error) {
	client, err := a.client(region)
	if err != nil {
		return ModifyFatal, err
	}

	_, err = client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		InstanceType: &ec2types.AttributeValue{
			Value: aws.String(instanceClass),
		},
	})
	if err != nil {
		if isClassRejection(err) {
			a.logger.Warn().
				Str("instance_id", instanceID).
				Str("instance_class", instanceClass).
				Err(err).
				Msg("Instance class rejected")
			return ModifyNeedFallback, fmt.Errorf("class %s rejected for %s: %w", instanceClass, instanceID, err)
		}
		return ModifyFatal, fmt.Errorf("modify %s to %s: %w", instanceID, instanceClass, err)
	}

	a.logger.Info().
		Str("instance_id", instanceID).
		Str("instance_class", instanceClass).
		Msg("Modified instance class")
	return ModifyAccepted, nil
}

// Start issues a start request
func (a *EC2Adapter) Start(ctx context.Context, region, instanceID string) error {
	client, err := a.client(region)
	if err != nil {
		return err
	}

	_, err = client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("start %s: %w", instanceID, err)
	}
	a.logger.Info().Str("instance_id", instanceID).Msg("Started instance")
	return nil
}

// WaitRunning blocks until the instance reports running or the timeout lapses
func (a *EC2Adapter) WaitRunning(ctx context.Context, region, instanceID string, timeout time.Duration) error {
	client, err := a.client(region)
	if err != nil {
		return err
	}

	waiter := ec2.NewInstanceRunningWaiter(client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, timeout); err != nil {
		return fmt.Errorf("wait running %s: %w", instanceID, err)
	}
	a.logger.Debug().Str("instance_id", instanceID).Msg("Instance running")
	return nil
}

// ListClasses returns the region's sizing catalog, cached between refreshes
func (a *EC2Adapter) ListClasses(ctx context.Context, region string) ([]*types.InstanceClass, error) {
	if cached, ok := a.catalog.Get(region); ok {
		return cached.([]*types.InstanceClass), nil
	}

	client, err := a.client(region)
	if err != nil {
		return nil, err
	}

	var classes []*types.InstanceClass
	paginator := ec2.NewDescribeInstanceTypesPaginator(client, &ec2.DescribeInstanceTypesInput{
		MaxResults: aws.Int32(describePageMax),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instance types: %w", err)
		}
		for _, it := range page.InstanceTypes {
			class := &types.InstanceClass{
				Name: string(it.InstanceType),
			}
			if it.VCpuInfo != nil && it.VCpuInfo.DefaultVCpus != nil {
				class.VCPU = *it.VCpuInfo.DefaultVCpus
			}
			if it.MemoryInfo != nil && it.MemoryInfo.SizeInMiB != nil {
				class.MemoryMiB = *it.MemoryInfo.SizeInMiB
			}
			if it.ProcessorInfo != nil && len(it.ProcessorInfo.SupportedArchitectures) > 0 {
				class.Architecture = string(it.ProcessorInfo.SupportedArchitectures[0])
			}
			classes = append(classes, class)
		}
	}

	a.catalog.Set(region, classes, gocache.DefaultExpiration)
	a.logger.Debug().Str("region", region).Int("classes", len(classes)).Msg("Refreshed instance class catalog")
	return classes, nil
}

// isClassRejection reports whether an API error means the requested class
// is incompatible with the instance (virtualization, architecture, quota
// shape) rather than a control-plane failure.
func isClassRejection(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidParameterValue",
		"InvalidInstanceAttributeValue",
		"Unsupported",
		"InvalidParameterCombination":
		return true
	}
	return false
}

func instanceState(instance ec2types.Instance, region string) *InstanceState {
	state := &InstanceState{
		InstanceID:    aws.ToString(instance.InstanceId),
		Region:        region,
		InstanceClass: string(instance.InstanceType),
		Architecture:  string(instance.Architecture),
		VPCID:         aws.ToString(instance.VpcId),

		PrivateAddress: aws.ToString(instance.PrivateIpAddress),
		PublicAddress:  aws.ToString(instance.PublicIpAddress),
		PrivateDNSName: aws.ToString(instance.PrivateDnsName),
		PublicDNSName:  aws.ToString(instance.PublicDnsName),
	}
	if instance.State != nil {
		state.State = string(instance.State.Name)
	}
	if instance.Placement != nil {
		state.AvailabilityZone = aws.ToString(instance.Placement.AvailabilityZone)
	}
	if instance.LaunchTime != nil {
		state.LaunchTime = *instance.LaunchTime
	}
	state.Tags = make(map[string]string, len(instance.Tags))
	for _, tag := range instance.Tags {
		state.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	state.Name = state.Tags["Name"]
	return state
}
