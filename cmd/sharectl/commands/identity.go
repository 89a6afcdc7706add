package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"code.teamsync.org/golang/internal/utils"
	"code.teamsync.org/golang/pkg/team"
)

func identityCmd() *cobra.Command {
	var withUser bool
	var userID string

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Generate a device identity, optionally with a user identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if "" == userID {
				user, err := team.NewUserIdentity("")
				if nil != err {
					return err
				}
				userID = user.UserID
				if withUser {
					printKeyPair("user", user.UserID, user.Keys)
				}
			}

			device, err := team.NewDeviceIdentity(userID)
			if nil != err {
				return err
			}
			printKeyPair("device", device.DeviceID, device.Keys)
			fmt.Printf("device.user: %s\n", device.UserID)

			return nil
		},
	}

	cmd.Flags().BoolVar(&withUser, "user", false, "also generate and print a user identity")
	cmd.Flags().StringVar(&userID, "user-id", "", "owning user id (default: a fresh random id)")

	return cmd
}

func printKeyPair(kind, id string, keys team.KeyPair) {
	pub, _ := utils.HexBinary(keys.Pub).MarshalText()
	sec, _ := utils.HexBinary(keys.Sec).MarshalText()
	fmt.Printf("%s.id: %s\n%s.pub: %s\n%s.sec: %s\n", kind, id, kind, pub, kind, sec)
}
