/*
Package client provides a thin Go client for a node's HTTP/WS API
(pkg/api): login, publish, query, subscribe, offsets, and node info.

# Usage

	c := client.New(client.Config{Addr: "localhost:4080"})
	if err := c.Login(ctx, manifest); err != nil {
		log.Fatal(err)
	}

	result, err := c.Publish(ctx, 0, []string{"sensor", "temp"}, map[string]any{"celsius": 21.5})
	if err != nil {
		log.Fatal(err)
	}

	records, err := c.Query(ctx, `FROM "sensor" & "temp"`)
	if err != nil {
		log.Fatal(err)
	}

	sub, err := c.Subscribe(ctx, `FROM "sensor"`, client.SubscribeOptions{})
	if err != nil {
		log.Fatal(err)
	}
	defer sub.Close()
	for {
		outcome, err := sub.Next()
		if err != nil {
			break
		}
		_ = outcome
	}

Every call but Login and Healthy requires a bearer token obtained from
a prior Login; IsUnauthenticated distinguishes an expired-token error
from any other failure so a long-running CLI session can re-login
transparently.
*/
package client
