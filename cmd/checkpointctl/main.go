//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Command checkpointctl inspects and maintains a checkpoint database.
package main

import (
	"context"
	"os"

	"trpc.group/trpc-go/trpc-agent-checkpoint/log"
)

func main() {
	a := &app{}
	if err := a.execute(context.Background(), a.rootCmd()); err != nil {
		log.Errorf("checkpointctl: %v", err)
		os.Exit(1)
	}
}
