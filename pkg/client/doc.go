// Package client is the HTTP transport for talking to a ship.
//
// It implements the two calls the expose package needs, Scry and Poke, on
// top of a ship's Eyre HTTP interface.
//
// # Connecting
//
// Log in with the ship's access code; the ship name is learned from the
// returned auth cookie:
//
//	c, err := client.New("https://zod.tlon.network")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Login(ctx, os.Getenv("SHIP_CODE")); err != nil {
//	    log.Fatal(err)
//	}
//
// A cookie obtained elsewhere can be reused instead:
//
//	c, _ := client.New(shipURL, client.WithCookie("urbauth-~zod=0v..."))
//
// # Reads and commands
//
//	body, err := c.Scry(ctx, "expose", "/show")          // GET  /~/scry/expose/show.json
//	err = c.Poke(ctx, "expose", "json", payload)         // PUT  /~/channel/<id>
//
// Non-2xx responses come back as *StatusError; IsNotFound reports a 404.
//
// # Pacing
//
// WithRateLimit spaces requests out with a token bucket. There is no retry.
package client
