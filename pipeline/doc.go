/*
Package pipeline 驱动单次咨询运行的阶段状态机。

每次运行依次经过 Analyzing、Selecting、Retrieving、Merging、Synthesizing，
最终到达 Complete；不可恢复的错误使运行进入 Failed 并发出唯一的 error 事件。
每个阶段完成后发出一个 node_update 事件，事件按发出顺序交给 Sink。

安全等级由 safety.Ratchet 约束，只升不降。调用方取消 context 后，
控制器不再发出任何事件并返回 ctx.Err()。

	ctl := pipeline.NewController(analyzer, table, orchestrator, synth,
		pipeline.DefaultConfig(), logger,
		pipeline.WithCache(faq),
		pipeline.WithObserver(collector),
	)
	res, err := ctl.Run(ctx, pipeline.Request{Question: q}, sink)
*/
package pipeline
