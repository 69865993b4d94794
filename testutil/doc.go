/*
Package testutil 提供 chatcore 测试共享的辅助函数。

  - TestContext / CancelledContext：自动清理的测试上下文
  - AssertEventuallyTrue / WaitForChannel：异步等待
  - CollectStreamChunks / CollectStreamContent：读取 llm.StreamChunk 流

子包 testutil/mocks 提供可编排结果的 MockHandler，testutil/fixtures
提供模型绑定、对话历史与流式块样例。

	ctx := testutil.TestContext(t)
	h := mocks.NewFlakyHandler("primary", 2, "hello")
	text, err := h.Chat(ctx, &llm.ChatRequest{})
*/
package testutil
