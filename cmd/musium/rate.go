package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage library users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE:  runUserList,
}

var rateCmd = &cobra.Command{
	Use:   "rate <album|track|artist> <id> <rating>",
	Short: "Rate a catalog entity as a user",
	Long: `Record a 1-5 rating. Ratings attach to canonical catalog entities, so
they survive file renames, retags and a source temporarily dropping the
entity.`,
	Args: cobra.ExactArgs(3),
	RunE: runRate,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)

	rootCmd.AddCommand(rateCmd)
	rateCmd.Flags().StringP("user", "u", "", "user name (required)")
	rateCmd.MarkFlagRequired("user")
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	applyLogFlags()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.CreateUser(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Created user %d (%s)\n", user.ID, user.Name)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	applyLogFlags()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers()
	if err != nil {
		return err
	}

	for _, user := range users {
		fmt.Printf("%4d  %s\n", user.ID, user.Name)
	}

	return nil
}

func runRate(cmd *cobra.Command, args []string) error {
	applyLogFlags()

	entity := args[0]
	entityID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s id %q", entity, args[1])
	}
	rating, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid rating %q", args[2])
	}

	userName, _ := cmd.Flags().GetString("user")

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.GetUserByName(userName)
	if err != nil {
		return err
	}

	if err := store.SetRating(user.ID, entity, entityID, rating); err != nil {
		return err
	}

	fmt.Printf("Rated %s %d: %d/5 for %s\n", entity, entityID, rating, user.Name)
	return nil
}
