package mediator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meshcomm/didcomm-mediator/pkg/didcomm"
	"go.uber.org/zap"
)

// ErrUnknownMessageType marks a Plaintext whose `type` URI matches no
// handler in this mediator's dispatch table.
type ErrUnknownMessageType struct {
	Type string
}

func (e *ErrUnknownMessageType) Error() string {
	return fmt.Sprintf("unrecognized message type %s", e.Type)
}

// Dispatcher routes an unpacked Plaintext to the handler for its `type`
// URI, component L (spec §4's dispatch table), translating any typed
// error a handler returns into a Problem Report reply instead of a bare
// HTTP error.
type Dispatcher struct {
	Log     *zap.Logger
	Pickup  *PickupHandler
	Routing *RoutingHandler
	Admin   *AdminHandler
	MyDID   string
}

// Dispatch handles one Plaintext addressed to this mediator from caller,
// returning the reply Plaintext to pack and send back (or nil if the
// message type has no synchronous reply, e.g. a forward). anonymous
// reports whether the outermost envelope this Plaintext arrived in was
// anoncrypt'd (spec §9 "Anonymous forward authorization") — it only
// affects the forward handler's anon_receive check.
func (d *Dispatcher) Dispatch(ctx context.Context, caller string, anonymous bool, msg didcomm.Plaintext) (*didcomm.Plaintext, error) {
	reply, err := d.route(ctx, caller, anonymous, msg)
	if err != nil {
		d.Log.Warn("dispatch failed", zap.String("type", msg.Type), zap.Error(err))
		report := didcomm.NewProblemReport(err, err.Error())
		pr, buildErr := report.ToPlaintext(d.MyDID, caller, msg.ThreadID)
		if buildErr != nil {
			return nil, buildErr
		}
		return &pr, nil
	}
	return reply, nil
}

func (d *Dispatcher) route(ctx context.Context, caller string, anonymous bool, msg didcomm.Plaintext) (*didcomm.Plaintext, error) {
	switch msg.Type {
	case TypeStatusRequest:
		var req StatusRequestBody
		if len(msg.Body) > 0 {
			if err := json.Unmarshal(msg.Body, &req); err != nil {
				return nil, &didcomm.ErrMalformedEnvelope{Reason: "status-request body: " + err.Error()}
			}
		}
		reply, err := d.Pickup.HandleStatusRequest(caller, req)
		return &reply, err

	case TypeDeliveryRequest:
		req, err := ParseDeliveryRequest(msg.Body)
		if err != nil {
			return nil, err
		}
		reply, err := d.Pickup.HandleDeliveryRequest(caller, req)
		return &reply, err

	case TypeMessagesReceived:
		var req MessagesReceivedBody
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			return nil, &didcomm.ErrMalformedEnvelope{Reason: "messages-received body: " + err.Error()}
		}
		reply, err := d.Pickup.HandleMessagesReceived(caller, req)
		return &reply, err

	case TypeLiveDeliveryChange:
		var req LiveDeliveryChangeBody
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			return nil, &didcomm.ErrMalformedEnvelope{Reason: "live-delivery-change body: " + err.Error()}
		}
		reply, err := d.Pickup.HandleLiveDeliveryChange(caller, req)
		return &reply, err

	case didcomm.ForwardType:
		return nil, d.Routing.HandleForward(ctx, caller, anonymous, msg)

	case TypeAccountCreate:
		var req AccountCreateBody
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			return nil, err
		}
		resp, err := d.Admin.HandleAccountCreate(req)
		if err != nil {
			return nil, err
		}
		body, err := marshalBody(resp)
		if err != nil {
			return nil, err
		}
		return &didcomm.Plaintext{Type: TypeAccountCreated, Body: body}, nil

	case TypeAccountRemove:
		var req AccountRemoveBody
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			return nil, err
		}
		if err := d.Admin.HandleAccountRemove(req); err != nil {
			return nil, err
		}
		body, err := marshalBody(req)
		if err != nil {
			return nil, err
		}
		return &didcomm.Plaintext{Type: TypeAccountRemoved, Body: body}, nil

	case TypeACLGet:
		var req ACLGetBody
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			return nil, err
		}
		resp, err := d.Admin.HandleACLGet(req)
		if err != nil {
			return nil, err
		}
		body, err := marshalBody(resp)
		if err != nil {
			return nil, err
		}
		return &didcomm.Plaintext{Type: TypeACLGetResponse, Body: body}, nil

	case TypeACLSet:
		var req ACLSetBody
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			return nil, err
		}
		result, err := d.Admin.HandleACLSet(req, caller)
		if err != nil {
			return nil, err
		}
		body, err := marshalBody(result)
		if err != nil {
			return nil, err
		}
		return &didcomm.Plaintext{Type: TypeACLSetResponse, Body: body}, nil

	case TypeQueueLimitsSet:
		var req QueueLimitsBody
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			return nil, err
		}
		if err := d.Admin.HandleQueueLimitsSet(req); err != nil {
			return nil, err
		}
		body, err := marshalBody(req)
		if err != nil {
			return nil, err
		}
		return &didcomm.Plaintext{Type: TypeQueueLimitsSet, Body: body}, nil

	default:
		return nil, &ErrUnknownMessageType{Type: msg.Type}
	}
}
