package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	actorSubjectPrefix = "actorchat.actor."
	probeSubjectPrefix = "actorchat.probe."

	probeTimeout = 250 * time.Millisecond
	callTimeout  = 5 * time.Second
)

// envelope frames one operation on the wire.
type envelope struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// reply frames one operation result on the wire.
type reply struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NATS routes actor operations between nodes over NATS subjects.
// Each announced actor subscribes to its own subject; callers address the
// subject without knowing which node serves it. Single-flight creation
// keeps each node from announcing an id twice; across nodes Announce
// enforces the claim itself, probing for an existing owner before and
// after subscribing and backing off on conflict.
type NATS struct {
	conn *nats.Conn
	node string
	log  *zerolog.Logger

	mu   sync.Mutex
	subs map[string][]*nats.Subscription
}

// NewNATS connects to the NATS server at url. The node name must be unique
// per node; it identifies this node in probe replies.
func NewNATS(url, node string, logger *zerolog.Logger) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("actorchat-"+node),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{
		conn: conn,
		node: node,
		log:  logger,
		subs: make(map[string][]*nats.Subscription),
	}, nil
}

func actorSubject(kind Kind, id uuid.UUID) string {
	return actorSubjectPrefix + string(kind) + "." + id.String()
}

func probeSubject(kind Kind, id uuid.UUID) string {
	return probeSubjectPrefix + string(kind) + "." + id.String()
}

// Announce claims the id, subscribes its subjects and starts serving
// operations. The claim is checked twice: a probe before subscribing catches
// an established owner, and a second probe after subscribing catches a
// concurrent announce racing ours. On conflict the subscriptions are rolled
// back and ErrAlreadyOwned is returned; a retry routes to whoever survived.
func (n *NATS) Announce(kind Kind, id uuid.UUID, h Handler) error {
	if peer, owned := n.probeOwner(kind, id); owned {
		return fmt.Errorf("%s/%s served by node %s: %w", kind, id, peer, ErrAlreadyOwned)
	}

	opSub, err := n.conn.Subscribe(actorSubject(kind, id), func(msg *nats.Msg) {
		go n.serve(msg, h)
	})
	if err != nil {
		return fmt.Errorf("subscribe actor subject: %w", err)
	}

	probeSub, err := n.conn.Subscribe(probeSubject(kind, id), func(msg *nats.Msg) {
		_ = msg.Respond([]byte(n.node))
	})
	if err != nil {
		_ = opSub.Unsubscribe()
		return fmt.Errorf("subscribe probe subject: %w", err)
	}

	if err := n.conn.Flush(); err != nil {
		_ = opSub.Unsubscribe()
		_ = probeSub.Unsubscribe()
		return fmt.Errorf("flush announce: %w", err)
	}

	if peer, conflict := n.probeConflict(kind, id); conflict {
		_ = opSub.Unsubscribe()
		_ = probeSub.Unsubscribe()
		n.log.Warn().Str("kind", string(kind)).Str("id", id.String()).Str("peer", peer).
			Msg("concurrent announce lost, claim withdrawn")
		return fmt.Errorf("%s/%s claimed concurrently by node %s: %w", kind, id, peer, ErrAlreadyOwned)
	}

	n.mu.Lock()
	n.subs[key(kind, id)] = []*nats.Subscription{opSub, probeSub}
	n.mu.Unlock()

	n.log.Debug().Str("kind", string(kind)).Str("id", id.String()).Msg("announced actor")
	return nil
}

// probeOwner asks whether any node currently answers the id's probe subject.
func (n *NATS) probeOwner(kind Kind, id uuid.UUID) (string, bool) {
	msg, err := n.conn.Request(probeSubject(kind, id), nil, probeTimeout)
	if err != nil {
		return "", false
	}
	return string(msg.Data), true
}

// probeConflict re-probes after our own responder is live, so it has to read
// every reply arriving within the window and skip the one carrying our node
// name. Any other reply is a competing claim.
func (n *NATS) probeConflict(kind Kind, id uuid.UUID) (string, bool) {
	sub, err := n.conn.SubscribeSync(nats.NewInbox())
	if err != nil {
		n.log.Warn().Err(err).Msg("probe inbox subscribe")
		return "", false
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := n.conn.PublishRequest(probeSubject(kind, id), sub.Subject, nil); err != nil {
		n.log.Warn().Err(err).Msg("probe publish")
		return "", false
	}

	deadline := time.Now().Add(probeTimeout)
	for {
		msg, err := sub.NextMsg(time.Until(deadline))
		if err != nil {
			return "", false
		}
		if peer := string(msg.Data); peer != n.node {
			return peer, true
		}
	}
}

func (n *NATS) serve(msg *nats.Msg, h Handler) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		n.log.Warn().Err(err).Str("subject", msg.Subject).Msg("bad actor envelope")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	out, err := h(ctx, env.Op, env.Payload)
	if msg.Reply == "" {
		return
	}

	rep := reply{Payload: out}
	if err != nil {
		rep.Error = err.Error()
	}
	data, merr := json.Marshal(rep)
	if merr != nil {
		n.log.Error().Err(merr).Str("subject", msg.Subject).Msg("marshal actor reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		n.log.Warn().Err(err).Str("subject", msg.Subject).Msg("respond actor call")
	}
}

// Withdraw drops the actor's subscriptions.
func (n *NATS) Withdraw(kind Kind, id uuid.UUID) {
	n.mu.Lock()
	subs := n.subs[key(kind, id)]
	delete(n.subs, key(kind, id))
	n.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			n.log.Warn().Err(err).Str("kind", string(kind)).Str("id", id.String()).Msg("unsubscribe")
		}
	}
}

// Remote probes whether another node owns the id. A locally announced id is
// never remote.
func (n *NATS) Remote(ctx context.Context, kind Kind, id uuid.UUID) bool {
	n.mu.Lock()
	_, local := n.subs[key(kind, id)]
	n.mu.Unlock()
	if local {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := n.conn.RequestWithContext(probeCtx, probeSubject(kind, id), nil)
	return err == nil
}

// Call sends one request/reply operation to the owning node.
func (n *NATS) Call(ctx context.Context, kind Kind, id uuid.UUID, op string, payload []byte) ([]byte, error) {
	data, err := json.Marshal(envelope{Op: op, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, callTimeout)
		defer cancel()
	}

	msg, err := n.conn.RequestWithContext(ctx, actorSubject(kind, id), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, ErrNotOwned
		}
		return nil, fmt.Errorf("call %s/%s %s: %w", kind, id, op, err)
	}

	var rep reply
	if err := json.Unmarshal(msg.Data, &rep); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	if rep.Error != "" {
		return nil, errors.New(rep.Error)
	}
	return rep.Payload, nil
}

// Cast publishes one fire-and-forget operation to the owning node.
func (n *NATS) Cast(kind Kind, id uuid.UUID, op string, payload []byte) error {
	data, err := json.Marshal(envelope{Op: op, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return n.conn.Publish(actorSubject(kind, id), data)
}

// Close drains the connection.
func (n *NATS) Close() error {
	n.mu.Lock()
	for _, subs := range n.subs {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}
	n.subs = make(map[string][]*nats.Subscription)
	n.mu.Unlock()

	if err := n.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
