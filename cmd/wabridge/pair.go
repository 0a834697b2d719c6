package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mdp/qrterminal/v3"

	"github.com/stacklight/wabridge/pkg/messaging"
	"github.com/stacklight/wabridge/pkg/messaging/whatsapp"
)

// pairWithQR runs the interactive QR pairing flow, rendering each code in the
// terminal until pairing resolves one way or the other.
func pairWithQR(ctx context.Context, provider *whatsapp.Provider) error {
	events, err := provider.StartQRPairing(ctx)
	if err != nil {
		return err
	}

	fmt.Println("📱 Scan the QR code with WhatsApp on your phone:")
	fmt.Println("   Settings > Linked Devices > Link a Device")
	fmt.Println()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return fmt.Errorf("pairing stream ended without result")
			}
			switch evt.Kind {
			case messaging.PairingQRCode:
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
				fmt.Println()
			case messaging.PairingSuccess:
				name := evt.DisplayName
				if name == "" {
					name = evt.UserID
				}
				fmt.Printf("✅ Paired as %s\n", name)
				return nil
			case messaging.PairingTimeout:
				return fmt.Errorf("pairing timed out before the code was scanned")
			case messaging.PairingErrored:
				return fmt.Errorf("pairing failed: %s", evt.Error)
			}
		}
	}
}

// pairWithCode runs the phone-number pairing flow. Success has no dedicated
// signal; the provider infers it from the connection-status stream.
func pairWithCode(ctx context.Context, provider *whatsapp.Provider, phone string) error {
	code, err := provider.StartCodePairing(ctx, phone)
	if err != nil {
		return err
	}

	fmt.Printf("🔑 Pairing code: %s\n", code)
	fmt.Println("   Enter it in WhatsApp: Settings > Linked Devices > Link with phone number")

	// Replaces any prior subscription; nil types keeps the full stream alive
	// for the bus consumers once login completes.
	events, err := provider.SubscribeEvents(ctx, nil)
	if err != nil {
		return err
	}

	if err := provider.WaitForLogin(ctx, events); err != nil {
		go drainEvents(events)
		return err
	}

	fmt.Println("✅ Paired")
	go drainEvents(events)
	return nil
}
