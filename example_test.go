package dbutils_test

import (
	"context"
	"fmt"

	"github.com/dbutils-go/dbutils"
)

func ExamplePool() {
	pool, err := dbutils.New(&dbutils.Config[*fakeConn]{
		Factory:  newFakeFactory(),
		Capacity: 2,
	})
	if err != nil {
		panic(err)
	}

	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		panic(err)
	}
	stat := pool.Stats()
	fmt.Printf("open=%d idle=%d in_use=%d\n", stat.OpenCount, stat.IdleCount, stat.InUseCount)

	if err := conn.Release(); err != nil {
		panic(err)
	}
	stat = pool.Stats()
	fmt.Printf("open=%d idle=%d in_use=%d\n", stat.OpenCount, stat.IdleCount, stat.InUseCount)

	if err := pool.Close(ctx); err != nil {
		panic(err)
	}

	// Output:
	// open=1 idle=0 in_use=1
	// open=1 idle=1 in_use=0
}
