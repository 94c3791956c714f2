// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package engine 提供任务编排执行引擎。

# 概述

engine 包实现了 TaskFlow 的核心：一个有向图任务执行器，支持普通、
决策分支、循环批处理和并行扇出四种节点类型，在节点之间按可配置的
保留策略传播上下文，并提供基于护栏校验的重试循环与交接委派能力。

# 核心接口与类型

  - TaskNode / Graph      — 任务节点与任务图（含可达性、分支词汇与环路校验）
  - GraphBuilder          — Fluent API 构建任务图
  - ContextStore          — 运行期结果存储与策略化视图（full_history /
    last_output / filtered，含 Token 预算截断）
  - GuardrailEvaluator    — 函数护栏与委派验证护栏（fail-closed 裁决解析）
  - HandoffRouter         — 加权评分交接路由（容量匹配、静态权重、阈值）
  - Scheduler             — FIFO 就绪队列调度器（重试预算、步数上限、失败传播）
  - Session / RunHandle   — 同步 / 异步运行入口（Start / StartAsync / Cancel）
  - CheckpointStore       — 按 (runID, nodeID) 键的检查点接口（恢复跳过重执行）
  - ExecutionHistory      — 全链路执行轨迹

# 主要能力

  - 节点类型：Normal、Decision（结果键精确 / 归一化匹配）、Loop
    （有限记录源、continue-on-error）、Parallel（errgroup 扇出、可选 fail-fast）
  - 错误分类：可重试调用错误、致命调用错误、护栏拒绝、无匹配结果键、
    无可用交接目标
  - 反馈注入：护栏拒绝反馈作为 source=guardrail-feedback 合成条目注入
    下一次尝试的上下文视图
  - 终止保证：全局步数上限确保任意图（含错误环路）有限终止
  - 序列化：GraphDefinition 支持 JSON / YAML 导入导出与校验
*/
package engine
