package domain

import (
	"encoding/json"
	"testing"
)

func FuzzParseIDs(f *testing.F) {
	for _, seed := range []string{
		"",
		"550e8400-e29b-41d4-a716-446655440000",
		"00000000-0000-0000-0000-000000000000",
		"{550e8400-e29b-41d4-a716-446655440000}",
		"urn:uuid:550e8400-e29b-41d4-a716-446655440000",
		"'; DROP TABLE credit_accounts;--",
		string([]byte{0xff, 0xfe}),
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		user, errUser := ParseUserID(input)
		_, errAccount := ParseAccountID(input)
		_, errTxn := ParseTransactionID(input)
		_, errAlloc := ParseAllocationID(input)
		_, errCampaign := ParseCampaignID(input)
		_, errTransfer := ParseTransferID(input)

		accepted := errUser == nil
		for _, err := range []error{errAccount, errTxn, errAlloc, errCampaign, errTransfer} {
			if (err == nil) != accepted {
				t.Fatalf("ID kinds disagree on %q", input)
			}
		}
		if !accepted {
			return
		}

		again, err := ParseUserID(user.String())
		if err != nil || again != user {
			t.Fatalf("canonical form of %q does not re-parse", input)
		}

		raw, err := json.Marshal(user)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded UserID
		if err := json.Unmarshal(raw, &decoded); err != nil || decoded != user {
			t.Fatalf("JSON round trip of %q failed: %v", input, err)
		}
	})
}
