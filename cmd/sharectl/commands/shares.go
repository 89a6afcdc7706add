package commands

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"code.teamsync.org/golang/internal/store/boltdb"
	"code.teamsync.org/golang/internal/utils"
	"code.teamsync.org/golang/pkg/team"
)

// persistedShare mirrors the at-rest record written by the auth provider.
type persistedShare struct {
	EncryptedTeam     []byte `cbor:"1,keyasint"`
	EncryptedTeamKeys []byte `cbor:"2,keyasint"`
}

func sharesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shares",
		Short: "List the shares persisted in a provider store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if "" == dbPath {
				return fmt.Errorf("--db is required")
			}
			var secret utils.HexBinary
			if err := secret.UnmarshalText([]byte(deviceSecret)); nil != err || 32 != len(secret) {
				return fmt.Errorf("--device-secret must be 32 hex encoded bytes")
			}

			st, err := boltdb.New(dbPath)
			if nil != err {
				return err
			}
			blob, err := st.Load(context.Background(), []string{"AuthProvider", "shares"})
			if nil != err {
				return err
			}

			var shares map[string]persistedShare
			if err := cbor.Unmarshal(blob, &shares); nil != err {
				return err
			}

			wrapKey := team.DeriveKey(secret, "teamsync share storage")
			for id, ps := range shares {
				keyring, err := team.Open(ps.EncryptedTeamKeys, wrapKey)
				if nil != err {
					fmt.Printf("%s: keyring not openable with this device secret\n", id)
					continue
				}
				var keys team.Keyring
				if err := cbor.Unmarshal(keyring, &keys); nil != err {
					fmt.Printf("%s: damaged keyring record\n", id)
					continue
				}
				fmt.Printf("%s: keyring generation %d, team blob %d bytes\n", id, keys.Generation, len(ps.EncryptedTeam))
			}

			return nil
		},
	}
}
