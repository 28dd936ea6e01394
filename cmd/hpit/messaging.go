package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

var publishCmd = &cobra.Command{
	Use:   "publish <event> [payload-json]",
	Short: "Publish a message to the plugins subscribed to an event",
	Long: `Publish a message. The payload is a JSON object given as the second
argument, extended or overridden with --set key=value.

  hpit publish kt_trace --set student_id=s1 --set skill_id=add --set correct=true`,
	GroupID: "messaging",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := payloadFrom(cmd, args[1:])
		if err != nil {
			return err
		}
		id, err := hubClient.Publish(cmd.Context(), args[0], payload)
		if err != nil {
			return fmt.Errorf("publishing: %w", err)
		}
		return printMessageID(cmd, id)
	},
}

var transactionCmd = &cobra.Command{
	Use:     "transaction [payload-json]",
	Short:   "Publish a tutoring transaction to every transaction subscriber",
	GroupID: "messaging",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := payloadFrom(cmd, args)
		if err != nil {
			return err
		}
		id, err := hubClient.Transaction(cmd.Context(), payload)
		if err != nil {
			return fmt.Errorf("publishing transaction: %w", err)
		}
		return printMessageID(cmd, id)
	},
}

var messagesCmd = &cobra.Command{
	Use:     "messages <plugin>",
	Short:   "Read a plugin's message queue",
	GroupID: "messaging",
	Args:    cobra.ExactArgs(1),
	RunE:    readQueue(model.ChannelMessages),
}

var transactionsCmd = &cobra.Command{
	Use:     "transactions <plugin>",
	Short:   "Read a plugin's transaction queue",
	GroupID: "messaging",
	Args:    cobra.ExactArgs(1),
	RunE:    readQueue(model.ChannelTransactions),
}

var respondCmd = &cobra.Command{
	Use:     "respond <message-id> [payload-json]",
	Short:   "Post a response to a message",
	GroupID: "messaging",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := payloadFrom(cmd, args[1:])
		if err != nil {
			return err
		}
		id, err := hubClient.Respond(cmd.Context(), args[0], payload)
		if err != nil {
			return fmt.Errorf("responding: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), wire.ResponseIDReply{ResponseID: id})
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var responsesCmd = &cobra.Command{
	Use:     "responses",
	Short:   "Collect the responses to messages this entity published",
	GroupID: "messaging",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		responses, err := hubClient.Responses(cmd.Context())
		if err != nil {
			return fmt.Errorf("polling responses: %w", err)
		}
		if jsonOutput {
			if responses == nil {
				responses = []wire.ResponseEnvelope{}
			}
			return printJSON(cmd.OutOrStdout(), wire.ResponsesReply{Responses: responses})
		}
		printResponses(cmd.OutOrStdout(), responses)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{publishCmd, transactionCmd, respondCmd} {
		c.Flags().StringArray("set", nil, "set a payload field (key=value, repeatable)")
	}
	for _, c := range []*cobra.Command{messagesCmd, transactionsCmd} {
		c.Flags().String("mode", string(wire.ModeList), "list (consume), preview or history")
	}
}

func payloadFrom(cmd *cobra.Command, args []string) (any, error) {
	sets, _ := cmd.Flags().GetStringArray("set")
	raw := ""
	if len(args) > 0 {
		raw = args[0]
	}
	return buildPayload(raw, sets)
}

func printMessageID(cmd *cobra.Command, id string) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), wire.MessageIDReply{MessageID: id})
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func readQueue(channel model.Channel) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, ok := wire.ParseReadMode(modeFlag)
		if !ok {
			return fmt.Errorf("unknown mode %q (must be list, preview or history)", modeFlag)
		}
		envs, err := hubClient.Messages(cmd.Context(), args[0], channel, mode)
		if err != nil {
			return fmt.Errorf("reading %s: %w", channel, err)
		}
		if jsonOutput {
			if envs == nil {
				envs = []wire.Envelope{}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{wire.ListKey(channel, mode): envs})
		}
		printEnvelopes(cmd.OutOrStdout(), envs)
		return nil
	}
}
