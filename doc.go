// Package sealmail provides a Go client SDK for sealed mail: message
// content lives encrypted in storage and each recipient receives a small
// signed, encrypted metadata envelope pointing at it.
//
// Keys are derived from a BIP-39 mnemonic, so the same phrase always
// restores the same account.
//
// Basic usage:
//
//	keys, err := sealmail.MakeKeys(mnemonic)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := sealmail.New(
//	    sealmail.WithKeys(keys),
//	    sealmail.WithBaseURL("https://mail.example.com"),
//	    sealmail.WithStorage(store),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Send a message
//	result, err := client.Send(ctx, &sealmail.Message{
//	    From:    []sealmail.Address{{Address: "alice@example.com"}},
//	    To:      []sealmail.Address{{Address: "bob@example.com"}},
//	    Subject: "Hello",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Receive sealed envelopes
//	inbox, err := client.ReceiveMail(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, env := range inbox.Envelopes {
//	    fmt.Println("Locator:", env.Metadata.Locator)
//	}
package sealmail
