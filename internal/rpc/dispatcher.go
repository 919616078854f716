package rpc

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/protocol"
	"github.com/srg/imulink/internal/session"
)

// Controller is the device surface the dispatcher drives.
type Controller interface {
	StartScanning() error
	StopScanning() error
	Connect(ctx context.Context, addr address.Addr) error
	StartSensors(ctx context.Context, addr address.Addr) error
	StopSensors(ctx context.Context, addr address.Addr) error
	Disconnect(ctx context.Context, addr address.Addr) error
	PollDevices() []session.DiscoveredDevice
	PollSamples(addr address.Addr) []protocol.MotionSample
	Go(name string, fn func(ctx context.Context)) error
}

type workflow func(ctx context.Context, addr address.Addr) error

// Dispatcher routes calls to the controller.
type Dispatcher struct {
	ctrl   Controller
	logger *logrus.Logger

	workflows map[string]workflow
}

// NewDispatcher creates a Dispatcher for ctrl.
func NewDispatcher(ctrl Controller, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		ctrl:   ctrl,
		logger: logger,
		workflows: map[string]workflow{
			MethodConnectDevice:    ctrl.Connect,
			MethodStartSensors:     ctrl.StartSensors,
			MethodStopSensors:      ctrl.StopSensors,
			MethodDisconnectDevice: ctrl.Disconnect,
		},
	}
}

// Methods returns the supported method names.
func (d *Dispatcher) Methods() []string {
	return []string{
		MethodStartScanning, MethodStopScanning,
		MethodConnectDevice, MethodStartSensors, MethodStopSensors, MethodDisconnectDevice,
		MethodPollDevices, MethodPollSamples,
	}
}

// alwaysSucceeds lists the teardown workflows that report success for any
// address, including one that does not parse.
var alwaysSucceeds = map[string]bool{
	MethodStopSensors:      true,
	MethodDisconnectDevice: true,
}

// Dispatch executes call and hands its reply to reply exactly once. Workflow
// methods reply from a pool goroutine after Dispatch has returned.
func (d *Dispatcher) Dispatch(call Call, reply func(Reply)) {
	logger := d.logger.WithFields(logrus.Fields{
		"id":     call.ID,
		"method": call.Method,
	})
	logger.Debug("Dispatching call")

	if wf, ok := d.workflows[call.Method]; ok {
		d.dispatchWorkflow(call, wf, reply, logger)
		return
	}

	switch call.Method {
	case MethodStartScanning:
		reply(d.plain(call.ID, d.ctrl.StartScanning()))
	case MethodStopScanning:
		reply(d.plain(call.ID, d.ctrl.StopScanning()))
	case MethodPollDevices:
		reply(success(call.ID, deviceInfos(d.ctrl.PollDevices())))
	case MethodPollSamples:
		addr, err := parseAddress(call.Args)
		if err != nil {
			// nothing was ever buffered under an unusable address
			logger.WithError(err).Debug("Polling unusable address")
			reply(success(call.ID, samplesResult(nil)))
			return
		}
		reply(success(call.ID, samplesResult(d.ctrl.PollSamples(addr))))
	default:
		logger.Debug("Method not implemented")
		reply(Reply{ID: call.ID, NotImplemented: true})
	}
}

func (d *Dispatcher) dispatchWorkflow(call Call, wf workflow, reply func(Reply), logger *logrus.Entry) {
	addr, err := parseAddress(call.Args)
	if err != nil {
		if alwaysSucceeds[call.Method] {
			logger.WithError(err).Debug("Ignoring unusable address")
			reply(success(call.ID, nil))
			return
		}
		reply(failure(call.ID, CodeBadArgs, err.Error()))
		return
	}

	name := fmt.Sprintf("%s-%s", call.Method, addr)
	err = d.ctrl.Go(name, func(ctx context.Context) {
		if err := wf(ctx, addr); err != nil {
			logger.WithError(err).Debug("Workflow failed")
			reply(errorReply(call.ID, err))
			return
		}
		reply(success(call.ID, nil))
	})
	if err != nil {
		reply(failure(call.ID, CodeException, err.Error()))
	}
}

func (d *Dispatcher) plain(id uint64, err error) Reply {
	if err != nil {
		return errorReply(id, err)
	}
	return success(id, nil)
}

func parseAddress(args Args) (address.Addr, error) {
	if args.Address == "" {
		return 0, fmt.Errorf("missing argument: address")
	}
	return address.Parse(args.Address)
}
