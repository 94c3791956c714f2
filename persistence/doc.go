// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package persistence 提供检查点与运行历史的持久化实现。

# 概述

persistence 实现 engine.CheckpointStore 接口的三种后端，以及一个基于
GORM 的运行历史存储：

  - MemoryCheckpointStore — 进程内存储，适合测试与一次性运行
  - FileCheckpointStore   — 单机文件存储（按 runID 分文件，JSON 编码）
  - RedisCheckpointStore  — 分布式 Redis 存储（Hash + 有序集合索引）
  - GormHistoryStore      — 运行摘要落库（SQLite / 任意 GORM 方言）

# 选型

单进程用 Memory 或 File；多副本恢复场景用 Redis。运行历史仅追加，
用于事后审计查询，不参与恢复路径。
*/
package persistence
