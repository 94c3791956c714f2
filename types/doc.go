// Copyright (c) TaskFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 TaskFlow 引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 engine、persistence 等
上层模块提供统一的错误码契约。所有跨包共享的错误类型均定义于此，
以避免循环依赖。

# 核心接口与类型

  - Error / ErrorCode — 结构化错误体系，含 Retryable、NodeID 标记

# 主要能力

  - 错误分类：调用错误（可重试 / 致命）、护栏错误、路由错误、运行级错误
  - 错误工具链：IsRetryable / GetErrorCode / WithCause / WithNodeID
*/
package types
