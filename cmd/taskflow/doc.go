// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 TaskFlow 命令行程序入口。

# 概述

cmd/taskflow 是工作流编排引擎的可执行入口，从 JSON 或 YAML 图定义
构建任务图并驱动一次运行。支持 YAML 配置文件加载、结构化日志（zap）、
Prometheus 指标采集、检查点持久化与断点恢复。

# 主要能力

  - 子命令：run（执行工作流）、validate（校验图定义）、history（运行历史）、version
  - 脚本化调用器：--responses 指定按 agent ref 回放的固定回复，用于
    演练和回归验证图的编排逻辑
  - 检查点后端：memory、file、redis，由配置选择；--resume 跳过已成功节点
  - 运行历史：启用 database 后将 RunSummary 写入 SQLite
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
