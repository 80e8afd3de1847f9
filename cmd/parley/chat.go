package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/lifecycle"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/trigger"
)

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive turn loop with an echo responder",
		Long: `Reads lines from stdin and drives each one through the full turn
lifecycle (pre-turn, turn, post-turn). An echo handler answers every turn and
claims the response, so the next turn's follow-up candidate is "echo".
Type /close to end the current conversation, /quit to exit.`,
		RunE: runChat,
	}

	cmd.Flags().Duration("conversation-expires", lifecycle.DefaultExpiration,
		"How long after its last interaction a conversation stays live")
	cmd.Flags().String("mongodb-uri", "", "MongoDB connection string (in-memory store when empty)")
	cmd.Flags().String("mongodb-database", "parley", "MongoDB database name")
	cmd.Flags().Bool("with-events", false, "Print forwarded lifecycle events")
	cobra.CheckErr(viper.BindPFlags(cmd.Flags()))

	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	conversations, audio, cleanup, err := buildStores(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := trigger.NewRegistry()
	manager := lifecycle.NewManager(conversations, registry,
		lifecycle.WithExpiration(viper.GetDuration("conversation-expires")),
		lifecycle.WithAudioStore(audio),
	)
	manager.RegisterHandlers(registry)

	if viper.GetBool("with-events") {
		router, err := events.NewEventRouter(events.WithLogger(events.NewWatermill(log.Logger)))
		if err != nil {
			return err
		}
		defer func() { _ = router.Close() }()

		forwarder := events.NewForwarder()
		forwarder.SubscribePublisher("parley.events", router.Publisher)
		forwarder.Attach(registry, events.AllTopics()...)

		router.AddHandler("event-printer", "parley.events", func(msg *message.Message) error {
			defer msg.Ack()
			fmt.Fprintf(os.Stderr, "event: %s\n", string(msg.Payload))
			return nil
		})

		routerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := router.Run(routerCtx); err != nil {
				log.Error().Err(err).Msg("event router stopped")
			}
		}()
		<-router.Running()
	}

	registerDemoHandlers(registry, manager)

	return turnLoop(ctx, registry, manager)
}

func buildStores(ctx context.Context) (store.ConversationStore, store.AudioStore, func(), error) {
	uri := viper.GetString("mongodb-uri")
	if uri == "" {
		return store.NewMemoryStore(), store.NewMemoryAudioStore(), func() {}, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to connect to mongodb")
	}
	db := client.Database(viper.GetString("mongodb-database"))

	audio, err := store.NewGridFSAudioStore(db, "")
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to disconnect from mongodb")
		}
	}
	return store.NewMongoStore(db, ""), audio, cleanup, nil
}

// registerDemoHandlers wires a minimal pair of handlers: a follow-up logger
// and an echo responder that claims every turn's response.
func registerDemoHandlers(registry *trigger.Registry, manager *lifecycle.Manager) {
	registry.Register(events.TopicFollowUp, "follow-up-logger",
		func(ctx context.Context, p trigger.Payload) error {
			if authorID := p.String(events.KeyFollowUpAuthorID); authorID != "" {
				log.Info().Str("author_id", authorID).Msg("follow-up candidate offered")
			}
			return nil
		})

	registry.Register(events.TopicTurn, "echo",
		func(ctx context.Context, p trigger.Payload) error {
			t, ok := p[events.KeyTurn].(*lifecycle.Turn)
			if !ok {
				return errors.New("payload carries no turn")
			}
			response := fmt.Sprintf("you said: %s", t.Context.GetInputText())
			if bc, ok := t.Context.(*lifecycle.BasicContext); ok {
				bc.SetOutputText(response)
			}
			return manager.RecordOutputAlteration(ctx, t, response, "echo", true)
		})
}

func turnLoop(ctx context.Context, registry *trigger.Registry, manager *lifecycle.Manager) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Print("> ")
			continue
		case "/quit":
			return nil
		}

		t := lifecycle.NewTurn(lifecycle.NewBasicContext(line))
		payload := trigger.Payload{events.KeyTurn: t}

		if err := registry.Publish(ctx, events.TopicPreTurn, payload); err != nil {
			return err
		}

		if line == "/close" {
			if err := manager.CloseConversation(ctx, t); err != nil {
				return err
			}
			fmt.Println("conversation closed")
		} else {
			if err := registry.Publish(ctx, events.TopicTurn, payload); err != nil {
				return err
			}
			fmt.Println(t.Context.GetOutputText())
		}

		if err := registry.Publish(ctx, events.TopicPostTurn, payload); err != nil {
			return err
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}
